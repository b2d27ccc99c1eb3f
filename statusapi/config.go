package statusapi

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kbukum/iceflow/config"
)

// Config configures the status HTTP server.
type Config struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`
	// KeepAlive is the interval of SSE keep-alive comments.
	KeepAlive time.Duration `yaml:"keep_alive" mapstructure:"keep_alive" validate:"gte=0"`
	// ProbeTimeout bounds the worker calls made to describe one pipeline.
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout" validate:"gte=0"`
}

// ApplyDefaults sets unset fields. A zero Port becomes 8090; set Host
// and Port explicitly to listen on an ephemeral port.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 15 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 2 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := config.Validate(c); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// Addr is the configured listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

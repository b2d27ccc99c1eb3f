package main

import (
	"fmt"
	"time"

	"github.com/kbukum/iceflow/config"
	"github.com/kbukum/iceflow/observability"
	"github.com/kbukum/iceflow/statusapi"
	"github.com/kbukum/iceflow/supervisor"
)

const serviceName = "iceflowd"

// Config is loaded from iceflowd.yaml, .env and ICEFLOWD_* variables.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Supervisor    supervisor.Config    `yaml:"supervisor" mapstructure:"supervisor"`
	Status        statusapi.Config     `yaml:"status" mapstructure:"status"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Demo          DemoConfig           `yaml:"demo" mapstructure:"demo"`
}

// DemoConfig describes the noise window played on startup.
type DemoConfig struct {
	// Pattern is the videotestsrc pattern. Unset means 1, snow.
	Pattern int `yaml:"pattern" mapstructure:"pattern" validate:"gte=0"`
	// Sink receives the video.
	Sink string `yaml:"sink" mapstructure:"sink" validate:"required"`
	// Duration is how long the window plays. Zero plays until a signal.
	Duration time.Duration `yaml:"duration" mapstructure:"duration" validate:"gte=0"`
	// ReportEvery is the position logging interval.
	ReportEvery time.Duration `yaml:"report_every" mapstructure:"report_every" validate:"gt=0"`
	// Realtime is the worker's realtime priority. Zero disables it.
	Realtime int `yaml:"realtime" mapstructure:"realtime" validate:"gte=0,lte=99"`
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Supervisor.ApplyDefaults()
	c.Status.ApplyDefaults()
	c.Observability.ApplyDefaults(c.Name)
	if c.Observability.ServiceVersion == "dev" && c.Version != "" {
		c.Observability.ServiceVersion = c.Version
	}
	if c.Demo.Sink == "" {
		c.Demo.Sink = "autovideosink"
	}
	if c.Demo.Pattern == 0 {
		c.Demo.Pattern = 1
	}
	if c.Demo.ReportEvery == 0 {
		c.Demo.ReportEvery = time.Second
	}
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Supervisor.Validate(); err != nil {
		return err
	}
	if err := c.Status.Validate(); err != nil {
		return err
	}
	if err := config.Validate(&c.Observability); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := config.Validate(&c.Demo); err != nil {
		return fmt.Errorf("demo: %w", err)
	}
	return nil
}

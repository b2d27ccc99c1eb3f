package supervisor

import (
	"fmt"
	"time"

	"github.com/kbukum/iceflow/config"
	"github.com/kbukum/iceflow/worker"
)

// Config configures worker processes and call timeouts.
type Config struct {
	// WorkerBinary is the worker executable, resolved through PATH.
	WorkerBinary string   `yaml:"worker_binary" mapstructure:"worker_binary" validate:"required"`
	WorkerArgs   []string `yaml:"worker_args" mapstructure:"worker_args"`
	ProbeArgs    []string `yaml:"probe_args" mapstructure:"probe_args"`
	// Env is added to the inherited environment of every worker.
	Env []string `yaml:"env" mapstructure:"env"`

	SpawnAttempts int           `yaml:"spawn_attempts" mapstructure:"spawn_attempts" validate:"gte=1,lte=20"`
	SpawnBackoff  time.Duration `yaml:"spawn_backoff" mapstructure:"spawn_backoff" validate:"gte=0"`
	// SettleDelay is waited after spawn before the first call.
	SettleDelay time.Duration `yaml:"settle_delay" mapstructure:"settle_delay" validate:"gte=0"`
	// GracePeriod separates SIGTERM from SIGKILL on teardown.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period" validate:"gte=0"`

	CallTimeout       time.Duration `yaml:"call_timeout" mapstructure:"call_timeout" validate:"gte=0"`
	AddTimeout        time.Duration `yaml:"add_timeout" mapstructure:"add_timeout" validate:"gte=0"`
	PropertyTimeout   time.Duration `yaml:"property_timeout" mapstructure:"property_timeout" validate:"gte=0"`
	CaptureTimeout    time.Duration `yaml:"capture_timeout" mapstructure:"capture_timeout" validate:"gte=0"`
	StartTimeout      time.Duration `yaml:"start_timeout" mapstructure:"start_timeout" validate:"gte=0"`
	PullToFileTimeout time.Duration `yaml:"pull_to_file_timeout" mapstructure:"pull_to_file_timeout" validate:"gte=0"`
	StopTimeout       time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout" validate:"gte=0"`
	ObserverTimeout   time.Duration `yaml:"observer_timeout" mapstructure:"observer_timeout" validate:"gte=0"`

	// Worker is passed to every worker through ICEFLOW_* variables.
	Worker worker.Config `yaml:"worker" mapstructure:"worker"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.WorkerBinary == "" {
		c.WorkerBinary = "iceflow-worker"
	}
	if c.WorkerArgs == nil {
		c.WorkerArgs = []string{"serve"}
	}
	if c.ProbeArgs == nil {
		c.ProbeArgs = []string{"probe"}
	}
	if c.SpawnAttempts == 0 {
		c.SpawnAttempts = 5
	}
	if c.SpawnBackoff == 0 {
		c.SpawnBackoff = 100 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 200 * time.Millisecond
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 500 * time.Millisecond
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.AddTimeout == 0 {
		c.AddTimeout = 5 * time.Second
	}
	if c.PropertyTimeout == 0 {
		c.PropertyTimeout = 10 * time.Second
	}
	if c.CaptureTimeout == 0 {
		c.CaptureTimeout = 10 * time.Second
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 75 * time.Second
	}
	if c.PullToFileTimeout == 0 {
		c.PullToFileTimeout = 500 * time.Millisecond
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.ObserverTimeout == 0 {
		c.ObserverTimeout = time.Second
	}
}

// Validate checks c after defaults were applied.
func (c *Config) Validate() error {
	if err := config.Validate(c); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

// workerEnv is the environment added for a worker. Later entries win.
func (c *Config) workerEnv(name string) []string {
	wc := c.Worker
	if name != "" {
		wc.PipelineName = name
	}
	env := append([]string{}, c.Env...)
	env = append(env, wc.Env()...)
	// Framework output stays quiet whatever the caller configured.
	return append(env, worker.EnvPrefix+"_MEDIA_DEBUG=1", "GST_DEBUG=*:1")
}

package worker

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kbukum/iceflow/engine"
)

// EnvPrefix prefixes every worker environment variable.
const EnvPrefix = "ICEFLOW"

// Config is read from the environment the controller passes down.
type Config struct {
	PipelineName string        `mapstructure:"pipeline_name" envconfig:"PIPELINE_NAME"`
	Realtime     int           `mapstructure:"realtime" envconfig:"REALTIME" default:"0"`
	SystemTime   bool          `mapstructure:"system_time" envconfig:"SYSTEM_TIME" default:"false"`
	StateTimeout time.Duration `mapstructure:"state_timeout" envconfig:"STATE_TIMEOUT" default:"10s"`
	ClockWait    time.Duration `mapstructure:"clock_wait" envconfig:"CLOCK_WAIT" default:"50s"`

	LogLevel  string `mapstructure:"log_level" envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `mapstructure:"log_format" envconfig:"LOG_FORMAT" default:"json"`
	// MediaDebug is the framework's own verbosity.
	MediaDebug int `mapstructure:"media_debug" envconfig:"MEDIA_DEBUG" default:"1"`

	// ParentPID is watched for exit. Zero means the parent at startup.
	ParentPID     int           `mapstructure:"parent_pid" envconfig:"PARENT_PID" default:"0"`
	WatchInterval time.Duration `mapstructure:"watch_interval" envconfig:"WATCH_INTERVAL" default:"1s"`
	// StopLinger is how long the worker keeps serving after a stop
	// request before exiting on its own.
	StopLinger time.Duration `mapstructure:"stop_linger" envconfig:"STOP_LINGER" default:"2s"`

	// SimTick is the buffer interval of the built-in media framework.
	SimTick time.Duration `mapstructure:"sim_tick" envconfig:"SIM_TICK" default:"20ms"`
}

// LoadConfig reads Config from ICEFLOW_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load worker config: %w", err)
	}
	return cfg, nil
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		Name:         c.PipelineName,
		Realtime:     c.Realtime,
		SystemTime:   c.SystemTime,
		StateTimeout: c.StateTimeout,
		ClockWait:    c.ClockWait,
	}
}

// Env renders c as environment entries for a child process.
func (c Config) Env() []string {
	kv := func(k string, v any) string { return fmt.Sprintf("%s_%s=%v", EnvPrefix, k, v) }
	env := []string{
		kv("REALTIME", c.Realtime),
		kv("SYSTEM_TIME", c.SystemTime),
		kv("MEDIA_DEBUG", c.MediaDebug),
	}
	if c.PipelineName != "" {
		env = append(env, kv("PIPELINE_NAME", c.PipelineName))
	}
	if c.StateTimeout > 0 {
		env = append(env, kv("STATE_TIMEOUT", c.StateTimeout))
	}
	if c.ClockWait > 0 {
		env = append(env, kv("CLOCK_WAIT", c.ClockWait))
	}
	if c.LogLevel != "" {
		env = append(env, kv("LOG_LEVEL", c.LogLevel))
	}
	if c.LogFormat != "" {
		env = append(env, kv("LOG_FORMAT", c.LogFormat))
	}
	if c.ParentPID > 0 {
		env = append(env, kv("PARENT_PID", c.ParentPID))
	}
	if c.SimTick > 0 {
		env = append(env, kv("SIM_TICK", c.SimTick))
	}
	return env
}

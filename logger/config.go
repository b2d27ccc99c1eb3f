package logger

import (
	"fmt"
	"slices"
)

// Config contains logging configuration.
type Config struct {
	Level       string `yaml:"level" mapstructure:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" mapstructure:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" mapstructure:"output" envconfig:"OUTPUT"`
	NoColor     bool   `yaml:"no_color" mapstructure:"no_color" envconfig:"NO_COLOR"`
	Timestamp   bool   `yaml:"timestamp" mapstructure:"timestamp" envconfig:"TIMESTAMP"`
	Caller      bool   `yaml:"caller" mapstructure:"caller" envconfig:"CALLER"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name" envconfig:"SERVICE_NAME"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	c.Timestamp = true
}

// Validate validates logging configuration.
func (c *Config) Validate() error {
	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "disabled"}
	if !slices.Contains(validLevels, c.Level) {
		return fmt.Errorf("logging.level must be one of %v (got: %s)", validLevels, c.Level)
	}
	validFormats := []string{"json", "console", "pretty"}
	if !slices.Contains(validFormats, c.Format) {
		return fmt.Errorf("logging.format must be one of %v (got: %s)", validFormats, c.Format)
	}
	validOutputs := []string{"stdout", "stderr"}
	if !slices.Contains(validOutputs, c.Output) {
		return fmt.Errorf("logging.output must be one of %v (got: %s)", validOutputs, c.Output)
	}
	return nil
}

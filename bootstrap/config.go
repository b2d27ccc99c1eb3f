package bootstrap

import (
	"github.com/kbukum/iceflow/config"
)

// Config is the constraint on application configs. Any struct embedding
// config.ServiceConfig satisfies it through promoted methods.
//
//	type DaemonConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Supervisor supervisor.Config `yaml:"supervisor" mapstructure:"supervisor"`
//	}
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}

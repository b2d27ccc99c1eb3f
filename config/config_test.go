package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/iceflow/errors"
)

type testSupervisor struct {
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	Binary      string        `mapstructure:"binary" validate:"required"`
}

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Supervisor    testSupervisor `mapstructure:"supervisor"`
}

func (c *testConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	if c.Supervisor.CallTimeout == 0 {
		c.Supervisor.CallTimeout = 15 * time.Second
	}
}

func (c *testConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	return Validate(c)
}

func TestServiceConfigApplyDefaults(t *testing.T) {
	t.Run("empty environment defaults to development", func(t *testing.T) {
		cfg := ServiceConfig{Name: "iceflowd"}
		cfg.ApplyDefaults()
		if cfg.Environment != "development" || !cfg.Debug {
			t.Errorf("expected development with debug, got %q debug=%v", cfg.Environment, cfg.Debug)
		}
		if cfg.Logging.ServiceName != "iceflowd" {
			t.Errorf("expected service name propagated to logging, got %q", cfg.Logging.ServiceName)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug logging in development, got %q", cfg.Logging.Level)
		}
	})

	t.Run("production keeps debug false", func(t *testing.T) {
		cfg := ServiceConfig{Name: "iceflowd", Environment: "production"}
		cfg.ApplyDefaults()
		if cfg.Debug || cfg.Logging.Level != "info" {
			t.Errorf("expected info logging without debug, got %q debug=%v", cfg.Logging.Level, cfg.Debug)
		}
	})
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr string
	}{
		{"valid", ServiceConfig{Name: "svc", Environment: "staging"}, ""},
		{"missing name", ServiceConfig{Environment: "production"}, "name: is required"},
		{"invalid environment", ServiceConfig{Name: "svc", Environment: "qa"}, "environment: must be one of"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.Logging.ApplyDefaults()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
			if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestValidate_FieldDetails(t *testing.T) {
	err := Validate(&testSupervisor{})
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok || len(fields) != 2 {
		t.Fatalf("expected 2 field errors, got %v", appErr.Details["fields"])
	}
	if fields[0].Field != "call_timeout" || fields[1].Field != "binary" {
		t.Errorf("unexpected field names %+v", fields)
	}
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yaml := `
name: iceflowd
environment: staging
supervisor:
  binary: /usr/bin/iceflow-worker
  call_timeout: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ICEFLOWTEST_SUPERVISOR_CALL_TIMEOUT", "20s")

	var cfg testConfig
	if err := LoadConfig("iceflowd", &cfg, WithConfigFile(path), WithEnvPrefix("ICEFLOWTEST")); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("expected staging, got %q", cfg.Environment)
	}
	if cfg.Supervisor.Binary != "/usr/bin/iceflow-worker" {
		t.Errorf("unexpected binary %q", cfg.Supervisor.Binary)
	}
	if cfg.Supervisor.CallTimeout != 20*time.Second {
		t.Errorf("expected env override 20s, got %v", cfg.Supervisor.CallTimeout)
	}
}

func TestLoadConfig_MissingFileAppliesDefaults(t *testing.T) {
	t.Setenv("ICEFLOWTEST_SUPERVISOR_BINARY", "worker")

	var cfg testConfig
	err := LoadConfig("iceflowd", &cfg, WithConfigFile("/nonexistent/path.yml"), WithEnvPrefix("ICEFLOWTEST"))
	if err != nil {
		t.Fatalf("expected success with missing file, got %v", err)
	}
	if cfg.Name != "iceflowd" {
		t.Errorf("expected service name default, got %q", cfg.Name)
	}
	if cfg.Supervisor.CallTimeout != 15*time.Second {
		t.Errorf("expected default call timeout, got %v", cfg.Supervisor.CallTimeout)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("iceflowd", &cfg, WithConfigFile("/nonexistent/path.yml"), WithEnvPrefix("ICEFLOWNONE"))
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for missing binary, got %v", err)
	}
}

type mockFS struct {
	files  map[string]bool
	loaded []string
}

func (m *mockFS) Exists(path string) bool { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error {
	m.loaded = append(m.loaded, path)
	return nil
}

func TestResolver_SearchOrder(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./config/config.yml":   true,
		"./config/iceflowd.yml": true,
		"./.env":                true,
		"./.env.iceflowd":       true,
	}}
	files := (&Resolver{FileSystem: fs}).ResolveFiles("iceflowd", LoaderConfig{})
	if files.ConfigFile != "./config/iceflowd.yml" {
		t.Errorf("expected service-specific config first, got %q", files.ConfigFile)
	}
	if files.EnvFile != "./.env.iceflowd" {
		t.Errorf("expected service-specific env first, got %q", files.EnvFile)
	}
}

func TestResolver_ExplicitPathsWin(t *testing.T) {
	fs := &mockFS{files: map[string]bool{"./config.yml": true}}
	files := (&Resolver{FileSystem: fs}).ResolveFiles("x", LoaderConfig{ConfigFile: "/etc/x.yml", EnvFile: "/etc/x.env"})
	if files.ConfigFile != "/etc/x.yml" || files.EnvFile != "/etc/x.env" {
		t.Errorf("explicit paths should be kept, got %+v", files)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	got := envKeyVariants("SUPERVISOR_CALL_TIMEOUT")
	want := []string{
		"supervisor_call_timeout",
		"supervisor.call_timeout",
		"supervisor_call.timeout",
		"supervisor.call.timeout",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d variants, got %v", len(want), got)
	}
	for _, w := range want {
		if !slices.Contains(got, w) {
			t.Errorf("missing variant %q in %v", w, got)
		}
	}

	if got := envKeyVariants("HOME"); len(got) != 1 || got[0] != "home" {
		t.Errorf("single-part key should map to itself, got %v", got)
	}
}

func TestOptions(t *testing.T) {
	var lc LoaderConfig
	WithFileSystem(&mockFS{})(&lc)
	WithConfigFile("/a.yml")(&lc)
	WithEnvFile("/a.env")(&lc)
	WithEnvPrefix("iceflow_")(&lc)
	if lc.FileSystem == nil || lc.ConfigFile != "/a.yml" || lc.EnvFile != "/a.env" || lc.EnvPrefix != "ICEFLOW" {
		t.Errorf("unexpected loader config %+v", lc)
	}
}

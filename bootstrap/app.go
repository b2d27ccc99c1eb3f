package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/observability"
)

// App is a controller binary with uniform lifecycle management. C is the
// config type.
type App[C Config] struct {
	Name    string
	Version string
	Cfg     C
	Logger  *logger.Logger

	gracefulTimeout time.Duration
	checkers        []observability.HealthChecker

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// NewApp applies defaults to cfg, validates it and sets up logging.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	base := cfg.GetServiceConfig()

	app := &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		gracefulTimeout: 15 * time.Second,
	}

	o := resolveOptions(opts)
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	if o.logger != nil {
		app.Logger = o.logger
	} else {
		logger.Init(&base.Logging)
		app.Logger = logger.GetGlobalLogger()
	}
	return app, nil
}

// AddHealthChecker includes c in ReadyCheck and Health.
func (a *App[C]) AddHealthChecker(c observability.HealthChecker) {
	a.checkers = append(a.checkers, c)
}

// Health aggregates the registered checkers.
func (a *App[C]) Health(ctx context.Context) *observability.ServiceHealth {
	return observability.Check(ctx, a.Name, a.Version, a.checkers...)
}

// ReadyCheck fails when any checker reports down.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	sh := a.Health(ctx)
	if sh.Status == observability.HealthStatusUp {
		return nil
	}
	var bad []string
	for _, h := range sh.Components {
		if h.Status != observability.HealthStatusUp {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			bad = append(bad, detail)
		}
	}
	if sh.Status == observability.HealthStatusDown {
		return fmt.Errorf("unhealthy components: %v", bad)
	}
	a.Logger.Warn("degraded components", logger.Fields("components", bad))
	return nil
}

// Run starts the app and blocks until a signal or ctx is done, then
// shuts down.
func (a *App[C]) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return errors.Join(err, a.stop())
	}
	a.Logger.Info("application ready")
	a.WaitForSignal(ctx)
	return a.stop()
}

// RunTask starts the app, runs task until it returns or a signal
// arrives, then shuts down. The task's error takes precedence.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		return errors.Join(err, a.stop())
	}

	taskCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	taskErr := task(taskCtx)
	if stopErr := a.stop(); stopErr != nil && taskErr == nil {
		return stopErr
	}
	return taskErr
}

func (a *App[C]) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("starting application", logger.Fields("name", a.Name, "version", a.Version))

	if err := runHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		return fmt.Errorf("ready check failed: %w", err)
	}
	if err := runHooks(ctx, a.onReady); err != nil {
		return fmt.Errorf("onReady hook failed: %w", err)
	}

	a.Logger.Info("application started", logger.Fields(logger.FieldDuration, time.Since(start).Milliseconds()))
	return nil
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation. It
// returns nil on cancellation.
func (a *App[C]) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("shutdown signal received", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		a.Logger.Info("context canceled, shutting down")
		return nil
	}
}

// Shutdown runs the stop hooks. Use it when managing the lifecycle
// yourself.
func (a *App[C]) Shutdown() error {
	return a.stop()
}

// stop runs every stop hook in reverse order within the graceful timeout,
// even after one fails.
func (a *App[C]) stop() error {
	a.Logger.Info("shutting down application", logger.Fields("timeout", a.gracefulTimeout.String()))

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var errs []error
	for _, h := range slices.Backward(a.onStop) {
		if err := h(ctx); err != nil {
			a.Logger.Error("stop hook error", logger.ErrorFields("shutdown", err))
			errs = append(errs, err)
		}
	}

	a.Logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

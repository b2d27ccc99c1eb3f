// Command iceflowd is a demo controller. It opens a noise window in a
// supervised worker, serves the status API and exports telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/iceflow/bootstrap"
	"github.com/kbukum/iceflow/config"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/observability"
	"github.com/kbukum/iceflow/statusapi"
	"github.com/kbukum/iceflow/supervisor"
	"github.com/kbukum/iceflow/version"
)

var (
	configFile string
	envFile    string
	duration   time.Duration
	hold       bool
)

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Version:       version.Get().String(),
	Short:         "Play a noise window through a supervised media worker",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "config file (default ./iceflowd.yaml or ./config/iceflowd.yaml)")
	f.StringVar(&envFile, "env-file", "", "env file (default ./.env)")
	f.DurationVar(&duration, "duration", 0, "play for this long, overriding demo.duration")
	f.BoolVar(&hold, "hold", false, "keep serving the status API after the demo until a signal")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	var opts []config.LoaderOption
	opts = append(opts, config.WithEnvPrefix("ICEFLOWD"))
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}

	cfg := Config{}
	cfg.Version = version.Get().Short()
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return err
	}
	if cmd.Flags().Changed("duration") {
		cfg.Demo.Duration = duration
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}
	return app.RunTask(cmd.Context(), wire(app))
}

// wire registers the lifecycle hooks and returns the demo task.
func wire(app *bootstrap.App[*Config]) func(context.Context) error {
	cfg := app.Cfg
	log := app.Logger.WithComponent("iceflowd")

	var metrics *observability.BridgeMetrics
	app.OnStart(func(ctx context.Context) error {
		shutdown, err := observability.Init(ctx, &cfg.Observability)
		if err != nil {
			return err
		}
		app.OnStop(bootstrap.Hook(shutdown))
		if metrics, err = observability.NewBridgeMetrics(observability.Meter("iceflow")); err != nil {
			log.Warn("bridge metrics disabled", logger.ErrorFields("metrics", err))
		}
		return nil
	})

	var rt *supervisor.Runtime
	app.OnStart(func(ctx context.Context) error {
		rt = supervisor.NewRuntime(cfg.Supervisor,
			supervisor.WithLogger(app.Logger.WithComponent("supervisor")),
			supervisor.WithMetrics(metrics),
		)
		app.AddHealthChecker(rt)
		app.OnStop(func(ctx context.Context) error {
			rt.Close(ctx)
			return nil
		})

		ok, err := rt.DoesElementExist(ctx, cfg.Demo.Sink)
		if err != nil {
			return fmt.Errorf("probe %s: %w", cfg.Demo.Sink, err)
		}
		if !ok {
			return fmt.Errorf("worker cannot create %q", cfg.Demo.Sink)
		}
		return nil
	})

	app.OnStart(func(ctx context.Context) error {
		if !cfg.Status.Enabled {
			return nil
		}
		srv := statusapi.New(cfg.Status, rt,
			statusapi.WithService(app.Name, app.Version),
			statusapi.WithLogger(app.Logger.WithComponent("statusapi")),
		)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		app.OnStop(srv.Stop)
		return nil
	})

	return func(ctx context.Context) error {
		if err := runDemo(ctx, rt, cfg.Demo, log); err != nil {
			return err
		}
		if hold {
			log.Info("demo finished, holding until signal")
			<-ctx.Done()
		}
		return nil
	}
}

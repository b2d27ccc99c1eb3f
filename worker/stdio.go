package worker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media/sim"
)

// ServeStdio is the worker process body: logs go to stderr and the bridge
// runs over stdin and stdout.
func ServeStdio(ctx context.Context, cfg Config) error {
	InitLogging(cfg)
	return New(cfg, nil).Serve(ctx, os.Stdin, os.Stdout)
}

// Probe writes "true" or "false" to w depending on whether the framework
// can create elements of type typ. Logs go to stderr so w carries only
// the answer.
func Probe(w io.Writer, cfg Config, typ string) error {
	InitLogging(cfg)
	rt := engine.NewRuntime(sim.New(sim.Options{Tick: cfg.SimTick}), engine.WithLogger(logger.Get("engine")))
	defer rt.Close()
	_, err := fmt.Fprintln(w, rt.ElementExists(typ))
	return err
}

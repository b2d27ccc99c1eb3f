package worker

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
	"github.com/kbukum/iceflow/media/sim"
	"github.com/kbukum/iceflow/version"
)

// errFinished ends the run group without reporting a failure.
var errFinished = stderrors.New("worker: finished")

// Worker serves one pipeline.
type Worker struct {
	cfg Config
	fw  media.Framework
	log *logger.Logger
}

// New returns a Worker. A nil framework selects the built-in one.
func New(cfg Config, fw media.Framework) *Worker {
	if fw == nil {
		fw = sim.New(sim.Options{Tick: cfg.SimTick})
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = time.Second
	}
	return &Worker{cfg: cfg, fw: fw, log: logger.Get("worker")}
}

// InitLogging points the global logger at stderr. Stdout carries the
// bridge and must not see log output.
func InitLogging(cfg Config) {
	lc := &logger.Config{
		Level:       strings.ToLower(cfg.LogLevel),
		Format:      cfg.LogFormat,
		Output:      "stderr",
		NoColor:     true,
		ServiceName: "iceflow-worker",
	}
	lc.ApplyDefaults()
	if err := lc.Validate(); err != nil {
		lc.Level, lc.Format = "info", logger.FormatJSON
	}
	l := logger.NewWithWriter(lc, os.Stderr, lc.ServiceName)
	logger.SetGlobalLogger(l)
	logger.RegisterDefaults("worker", "engine", "bridge")
}

// Serve speaks the bridge on in and out until the controller hangs up,
// the parent process exits, a stop request lingers past StopLinger, or
// ctx is done. Only a vanished parent is reported as an error.
func (w *Worker) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	rt := engine.NewRuntime(w.fw, engine.WithLogger(logger.Get("engine")))
	defer rt.Close()

	stopped := make(chan struct{})
	var once sync.Once
	srv, err := engine.NewServer(rt, w.cfg.engineConfig(), engine.OnStop(func() {
		once.Do(func() { close(stopped) })
	}))
	if err != nil {
		return err
	}
	conn := bridge.NewConn(in, out, bridge.Options{Handler: srv, Logger: logger.Get("bridge")})
	defer conn.Close()
	srv.Attach(conn)

	ppid := w.cfg.ParentPID
	if ppid == 0 {
		ppid = currentParent()
	}
	w.log.Info("worker serving", logger.Fields(
		logger.FieldPID, os.Getpid(), "parent_pid", ppid, logger.FieldPipelineID, srv.Pipeline().ID().String(),
		"version", version.Get().Short(),
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-conn.Done():
			w.log.Debug("controller hung up", logger.Fields("reason", errString(conn.Err())))
			return errFinished
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		return watchParent(gctx, ppid, w.cfg.WatchInterval)
	})
	g.Go(func() error {
		select {
		case <-stopped:
		case <-gctx.Done():
			return nil
		}
		// Give the controller time to read the reply and close first.
		select {
		case <-time.After(w.cfg.StopLinger):
			return errFinished
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	if stderrors.Is(err, ErrParentGone) {
		w.log.Warn("parent process gone, exiting", logger.Fields("parent_pid", ppid))
		return err
	}
	if err != nil && !stderrors.Is(err, errFinished) {
		return err
	}
	w.log.Info("worker exiting")
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

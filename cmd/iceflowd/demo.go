package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/supervisor"
)

// noiseWindow logs worker errors and the end of stream.
type noiseWindow struct {
	supervisor.NopHandler
	log  *logger.Logger
	done chan struct{}
}

func (w *noiseWindow) OnError(p *supervisor.Pipeline, ev engine.ErrorEvent) {
	w.log.Error("pipeline error", logger.Fields(logger.FieldPipelineID, p.ID().String(), "source", ev.Source, "message", ev.Message))
}

func (w *noiseWindow) OnStreamFinished(p *supervisor.Pipeline) {
	w.log.Info("stream finished", logger.Fields(logger.FieldPipelineID, p.ID().String()))
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

// runDemo plays a test pattern into a video sink until cfg.Duration
// passes, the stream ends or ctx is done, logging the position meanwhile.
func runDemo(ctx context.Context, rt *supervisor.Runtime, cfg DemoConfig, log *logger.Logger) error {
	h := &noiseWindow{log: log, done: make(chan struct{})}
	opts := []supervisor.PipelineOption{supervisor.WithName("noise-window"), supervisor.WithHandler(h)}
	if cfg.Realtime > 0 {
		opts = append(opts, supervisor.WithRealtime(cfg.Realtime))
	}
	p, err := rt.NewPipeline(ctx, opts...)
	if err != nil {
		return err
	}
	defer p.Stop(context.Background())

	if _, err := p.AddElement(ctx, "videotestsrc", supervisor.Prop("pattern", cfg.Pattern)); err != nil {
		return err
	}
	if _, err := p.AddElement(ctx, cfg.Sink); err != nil {
		return err
	}
	if err := p.Start(ctx, engine.StartOptions{}); err != nil {
		return err
	}
	log.Info("started", logger.Fields(logger.FieldPipelineID, p.ID().String(), logger.FieldPID, p.Pid()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, cfg.Duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		select {
		case <-h.done:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		tick := time.NewTicker(cfg.ReportEvery)
		defer tick.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tick.C:
				pos, err := p.Position(gctx)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				log.Info("playing", logger.Fields("position_s", pos))
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("stopping")
	p.Stop(context.Background())
	log.Info("stopped")
	return nil
}

package supervisor

import (
	"context"
	"runtime"
	"time"
	"weak"

	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/errors"
)

// ElementProxy addresses one element of a Pipeline. It does not keep the
// Pipeline alive: once the Pipeline is collected every method fails with
// PIPELINE_GONE. Once it is stopped they fail with PROCESS_DEAD, except
// SetProperty which only logs.
type ElementProxy struct {
	p weak.Pointer[Pipeline]
	h engine.Handle
}

func newElementProxy(p *Pipeline, h engine.Handle) *ElementProxy {
	return &ElementProxy{p: weak.Make(p), h: h}
}

// Handle returns the element's handle in the worker.
func (e *ElementProxy) Handle() engine.Handle { return e.h }

// pipeline upgrades the weak reference. Callers keep the result alive
// until their call returns so the reaper cannot stop the worker mid-call.
func (e *ElementProxy) pipeline() (*Pipeline, error) {
	p := e.p.Value()
	if p == nil {
		return nil, errors.PipelineGone()
	}
	return p, nil
}

// GetProperty reads a property of the element.
func (e *ElementProxy) GetProperty(ctx context.Context, name string) (any, error) {
	p, err := e.pipeline()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(p)
	return p.GetProperty(ctx, e.h, name)
}

// SetProperty writes a property of the element.
func (e *ElementProxy) SetProperty(ctx context.Context, name string, value any) error {
	p, err := e.pipeline()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(p)
	return p.SetProperty(ctx, e.h, name, value)
}

// PullBuffer pulls one sample when the element is an appsink.
func (e *ElementProxy) PullBuffer(ctx context.Context, timeout time.Duration) (*engine.Frame, error) {
	p, err := e.pipeline()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(p)
	return p.PullBuffer(ctx, e.h, timeout)
}

// PullToFile writes the newest sample of the appsink to path.
func (e *ElementProxy) PullToFile(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	p, err := e.pipeline()
	if err != nil {
		return false, err
	}
	defer runtime.KeepAlive(p)
	return p.PullToFile(ctx, e.h, path, timeout)
}

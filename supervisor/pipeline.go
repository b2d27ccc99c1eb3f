package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/logger"
)

// Pipeline is the controller's view of one remote pipeline. Dropping the
// last reference without calling Stop stops the worker when the Pipeline
// is collected.
type Pipeline struct {
	id      uuid.UUID
	name    string
	rt      *Runtime
	sup     *Supervisor
	handler EventHandler
	log     *logger.Logger
}

// ID is a UUIDv7 and so embeds the creation time.
func (p *Pipeline) ID() uuid.UUID { return p.id }

// Name returns the name given with WithName or the generated default.
func (p *Pipeline) Name() string { return p.name }

// CreatedAt is the time embedded in ID.
func (p *Pipeline) CreatedAt() time.Time {
	sec, nsec := p.id.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// Pid returns the worker's process id.
func (p *Pipeline) Pid() int { return p.sup.Pid() }

// Ended reports whether the pipeline was stopped or its worker died.
func (p *Pipeline) Ended() bool { return p.sup.Ended() }

// AddElement creates an element of type typ in the worker. Queues also get
// a failure observer that logs their fill level when the worker is torn
// down.
func (p *Pipeline) AddElement(ctx context.Context, typ string, opts ...ElementOption) (*ElementProxy, error) {
	spec := engine.ElementSpec{Type: typ}
	for _, opt := range opts {
		opt(&spec)
	}
	var h engine.Handle
	if err := p.sup.Call(ctx, bridge.MethodAddElement, spec, &h, p.sup.cfg.AddTimeout); err != nil {
		return nil, err
	}
	if typ == "queue" {
		p.watchQueue(h, spec.Name)
	}
	return p.proxy(h), nil
}

// watchQueue must not capture p, or the observer would keep it alive.
func (p *Pipeline) watchQueue(h engine.Handle, name string) {
	if name == "" {
		name = fmt.Sprintf("queue_%d", h)
	}
	sup, log := p.sup, p.log
	sup.OnFailure(func(ctx context.Context) {
		var level any
		req := engine.PropertyRequest{Element: h, Property: "current-level-time"}
		if err := sup.peek(ctx, bridge.MethodGetProperty, req, &level); err != nil {
			return
		}
		if ns, ok := level.(float64); ok {
			log.Warn("queue level at failure", logger.Fields("queue", name, "level_s", ns/float64(time.Second)))
		}
	})
}

// SetProperty sets a property of element h. On an ended pipeline it logs
// and returns nil.
func (p *Pipeline) SetProperty(ctx context.Context, h engine.Handle, name string, value any) error {
	if p.sup.Ended() {
		p.log.Debug("property set on ended pipeline", logger.Fields(logger.FieldElement, h, logger.FieldProperty, name))
		return nil
	}
	req := engine.PropertyRequest{Element: h, Property: name, Value: value}
	return p.sup.Call(ctx, bridge.MethodSetProperty, req, nil, p.sup.cfg.PropertyTimeout)
}

// GetProperty reads a property of element h. Booleans stay booleans,
// numbers are float64 and everything else is a string.
func (p *Pipeline) GetProperty(ctx context.Context, h engine.Handle, name string) (any, error) {
	var v any
	req := engine.PropertyRequest{Element: h, Property: name}
	if err := p.sup.Call(ctx, bridge.MethodGetProperty, req, &v, p.sup.cfg.PropertyTimeout); err != nil {
		return nil, err
	}
	return v, nil
}

// Start pre-rolls the pipeline and takes it to PLAYING.
func (p *Pipeline) Start(ctx context.Context, opts engine.StartOptions) error {
	return p.sup.Call(ctx, bridge.MethodStart, opts, nil, p.sup.cfg.StartTimeout)
}

// Pause takes the pipeline to PAUSED.
func (p *Pipeline) Pause(ctx context.Context) error {
	return p.sup.Call(ctx, bridge.MethodPause, nil, nil, p.sup.cfg.CallTimeout)
}

// Play resumes a paused pipeline.
func (p *Pipeline) Play(ctx context.Context, opts engine.PlayOptions) error {
	return p.sup.Call(ctx, bridge.MethodPlay, opts, nil, p.sup.cfg.CallTimeout)
}

// Seek moves the playback position.
func (p *Pipeline) Seek(ctx context.Context, opts engine.SeekOptions) error {
	return p.sup.Call(ctx, bridge.MethodSeek, opts, nil, p.sup.cfg.CallTimeout)
}

// Position returns the stream position in seconds.
func (p *Pipeline) Position(ctx context.Context) (float64, error) {
	var pos float64
	err := p.sup.Call(ctx, bridge.MethodPosition, nil, &pos, p.sup.cfg.CallTimeout)
	return pos, err
}

// AddCapture appends a video capture chain and returns its appsink.
func (p *Pipeline) AddCapture(ctx context.Context, opts engine.CaptureOptions) (*ElementProxy, error) {
	var h engine.Handle
	if err := p.sup.Call(ctx, bridge.MethodAddCapture, opts, &h, p.sup.cfg.CaptureTimeout); err != nil {
		return nil, err
	}
	return p.proxy(h), nil
}

// AddPresenceDetector adds a presence detector. Values arrive through
// EventHandler.OnPresence.
func (p *Pipeline) AddPresenceDetector(ctx context.Context, opts engine.PresenceOptions) (*ElementProxy, error) {
	var h engine.Handle
	if err := p.sup.Call(ctx, bridge.MethodAddPresence, opts, &h, p.sup.cfg.CaptureTimeout); err != nil {
		return nil, err
	}
	return p.proxy(h), nil
}

// PullBuffer pulls one sample from appsink h. It returns nil when no
// sample arrived within timeout.
func (p *Pipeline) PullBuffer(ctx context.Context, h engine.Handle, timeout time.Duration) (*engine.Frame, error) {
	var f *engine.Frame
	req := engine.PullRequest{Element: h, Timeout: timeout.Seconds()}
	if err := p.sup.Call(ctx, bridge.MethodPullBuffer, req, &f, p.sup.cfg.CallTimeout+timeout); err != nil {
		return nil, err
	}
	return f, nil
}

// PullToFile writes the newest sample of appsink h to path, as PNG when it
// is RGB video. It reports whether a sample was written.
func (p *Pipeline) PullToFile(ctx context.Context, h engine.Handle, path string, timeout time.Duration) (bool, error) {
	var ok bool
	req := engine.PullRequest{Element: h, Path: path, Timeout: timeout.Seconds()}
	if err := p.sup.Call(ctx, bridge.MethodPullToFile, req, &ok, p.sup.cfg.PullToFileTimeout+timeout); err != nil {
		return false, err
	}
	return ok, nil
}

// SendEOS sends end-of-stream into the pipeline.
func (p *Pipeline) SendEOS(ctx context.Context) error {
	return p.sup.Call(ctx, bridge.MethodSendEOS, nil, nil, p.sup.cfg.CallTimeout)
}

// Restart takes the pipeline to NULL and starts it again in the
// background. Failures arrive as OnError.
func (p *Pipeline) Restart(ctx context.Context, opts engine.PlayOptions) error {
	return p.sup.Call(ctx, bridge.MethodRestart, opts, nil, p.sup.cfg.CallTimeout)
}

// ExitSegmentMode issues a plain seek so the pipeline stops looping segments.
func (p *Pipeline) ExitSegmentMode(ctx context.Context) error {
	return p.sup.Call(ctx, bridge.MethodExitSegmentMode, nil, nil, p.sup.cfg.CallTimeout)
}

// IsActive reports whether the remote pipeline is running.
func (p *Pipeline) IsActive(ctx context.Context) (bool, error) {
	var active bool
	err := p.sup.Call(ctx, bridge.MethodIsActive, nil, &active, p.sup.cfg.CallTimeout)
	return active, err
}

// Invoke sends any command without a typed wrapper. Every error kills the
// worker.
func (p *Pipeline) Invoke(ctx context.Context, method bridge.Method, params, result any) error {
	return p.sup.Invoke(ctx, method, params, result)
}

// Stop stops the pipeline and its worker. It is idempotent.
func (p *Pipeline) Stop(ctx context.Context) {
	p.sup.Stop(ctx)
	p.rt.forget(p.id)
}

func (p *Pipeline) proxy(h engine.Handle) *ElementProxy {
	return newElementProxy(p, h)
}

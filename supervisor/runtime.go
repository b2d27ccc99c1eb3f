package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/observability"
	"github.com/kbukum/iceflow/process"
)

// Event is a worker event as seen by Runtime subscribers.
type Event struct {
	Pipeline uuid.UUID       `json:"pipeline"`
	Name     string          `json:"name,omitempty"`
	Method   bridge.Method   `json:"method"`
	Params   json.RawMessage `json:"params,omitempty"`
	At       time.Time       `json:"at"`
}

// Runtime creates Pipelines and tracks the live ones. It holds them
// weakly, so a dropped Pipeline is still collected and its worker
// stopped.
type Runtime struct {
	cfg  Config
	deps deps
	log  *logger.Logger

	mu      sync.Mutex
	live    map[uuid.UUID]weak.Pointer[Pipeline]
	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewRuntime returns a Runtime creating workers from cfg.
func NewRuntime(cfg Config, opts ...Option) *Runtime {
	cfg.ApplyDefaults()
	d := newDeps(opts)
	return &Runtime{
		cfg:  cfg,
		deps: d,
		log:  d.log,
		live: make(map[uuid.UUID]weak.Pointer[Pipeline]),
		subs: make(map[uint64]func(Event)),
	}
}

// Config returns the configuration with defaults applied.
func (rt *Runtime) Config() Config { return rt.cfg }

// collected is what the cleanup of a dropped Pipeline needs. It must not
// reference the Pipeline.
type collected struct {
	rt   *Runtime
	sup  *Supervisor
	id   uuid.UUID
	name string
}

// NewPipeline spawns a worker and returns its Pipeline.
func (rt *Runtime) NewPipeline(ctx context.Context, opts ...PipelineOption) (*Pipeline, error) {
	var o pipelineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.handler == nil {
		o.handler = NopHandler{}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}
	if o.name == "" {
		o.name = "pipeline-" + id.String()[:8]
	}

	p := &Pipeline{
		id:      id,
		name:    o.name,
		rt:      rt,
		handler: o.handler,
		log:     rt.log.WithPipeline(id.String()),
	}
	// The event path reaches p only through wp, and captures nothing
	// that may reference p.
	wp := weak.Make(p)
	log, name := p.log, o.name
	events := func(method bridge.Method, params json.RawMessage) {
		rt.publish(Event{Pipeline: id, Name: name, Method: method, Params: params, At: time.Now()})
		if fp := wp.Value(); fp != nil {
			dispatch(log, fp, fp.handler, method, params)
		}
	}

	cfg := rt.cfg
	cfg.Worker.Realtime = o.realtime
	cfg.Worker.SystemTime = cfg.Worker.SystemTime || o.systemTime
	sup, err := New(ctx, cfg, name, events, WithLogger(log), WithMetrics(rt.deps.metrics))
	if err != nil {
		return nil, err
	}
	p.sup = sup

	rt.mu.Lock()
	rt.live[id] = wp
	rt.mu.Unlock()
	runtime.AddCleanup(p, func(c collected) { go c.rt.reap(c) }, collected{rt: rt, sup: sup, id: id, name: name})

	p.log.Info("pipeline created", logger.Fields(logger.FieldPID, sup.Pid(), "name", name))
	return p, nil
}

// reap stops the worker of a Pipeline that was collected without Stop.
func (rt *Runtime) reap(c collected) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Error("stopping collected pipeline panicked", logger.Fields("panic", rec))
		}
	}()
	if !c.sup.Ended() {
		rt.log.Debug("pipeline collected without stop", logger.Fields(logger.FieldPipelineID, c.id.String(), "name", c.name))
	}
	c.sup.Stop(context.Background())
	rt.forget(c.id)
}

func (rt *Runtime) forget(id uuid.UUID) {
	rt.mu.Lock()
	delete(rt.live, id)
	rt.mu.Unlock()
}

// Live returns the live Pipelines oldest first.
func (rt *Runtime) Live() []*Pipeline {
	rt.mu.Lock()
	out := make([]*Pipeline, 0, len(rt.live))
	for _, wp := range rt.live {
		if p := wp.Value(); p != nil {
			out = append(out, p)
		}
	}
	rt.mu.Unlock()
	slices.SortFunc(out, func(a, b *Pipeline) int {
		return strings.Compare(a.id.String(), b.id.String())
	})
	return out
}

// Len is the number of live Pipelines.
func (rt *Runtime) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for _, wp := range rt.live {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// Lookup returns a live Pipeline by id.
func (rt *Runtime) Lookup(id uuid.UUID) (*Pipeline, bool) {
	rt.mu.Lock()
	wp, ok := rt.live[id]
	rt.mu.Unlock()
	if !ok {
		return nil, false
	}
	p := wp.Value()
	return p, p != nil
}

// Subscribe calls fn for every event of every Pipeline, on the event
// goroutine of the emitting Pipeline. The returned function unsubscribes.
func (rt *Runtime) Subscribe(fn func(Event)) func() {
	rt.mu.Lock()
	rt.nextSub++
	id := rt.nextSub
	rt.subs[id] = fn
	rt.mu.Unlock()
	return func() {
		rt.mu.Lock()
		delete(rt.subs, id)
		rt.mu.Unlock()
	}
}

func (rt *Runtime) publish(ev Event) {
	rt.mu.Lock()
	subs := make([]func(Event), 0, len(rt.subs))
	for _, fn := range rt.subs {
		subs = append(subs, fn)
	}
	rt.mu.Unlock()
	for _, fn := range subs {
		rt.deliver(fn, ev)
	}
}

func (rt *Runtime) deliver(fn func(Event), ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Error("event subscriber panicked", logger.Fields(logger.FieldMethod, string(ev.Method), "panic", rec))
		}
	}()
	fn(ev)
}

// CheckHealth reports degraded while a registered Pipeline has lost its
// worker.
func (rt *Runtime) CheckHealth(context.Context) observability.Health {
	live := rt.Live()
	ended := 0
	for _, p := range live {
		if p.Ended() {
			ended++
		}
	}
	h := observability.Health{
		Name:   "pipelines",
		Status: observability.HealthStatusUp,
		Details: map[string]string{
			"live":  strconv.Itoa(len(live)),
			"ended": strconv.Itoa(ended),
		},
	}
	if ended > 0 {
		h.Status = observability.HealthStatusDegraded
		h.Message = fmt.Sprintf("%d pipeline worker(s) ended", ended)
	}
	return h
}

// Close stops every live Pipeline.
func (rt *Runtime) Close(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range rt.Live() {
		wg.Go(func() { p.Stop(ctx) })
	}
	wg.Wait()
}

// DoesElementExist reports whether workers can create elements of type typ.
func (rt *Runtime) DoesElementExist(ctx context.Context, typ string) (bool, error) {
	return DoesElementExist(ctx, rt.cfg, typ)
}

// DoesElementExist runs the worker's probe command for typ.
func DoesElementExist(ctx context.Context, cfg Config, typ string) (bool, error) {
	cfg.ApplyDefaults()
	res, err := process.Run(ctx, process.Command{
		Binary:      cfg.WorkerBinary,
		Args:        append(slices.Clone(cfg.ProbeArgs), typ),
		Env:         cfg.workerEnv(""),
		GracePeriod: cfg.GracePeriod,
	})
	if err != nil {
		return false, errors.Internal(err).WithDetail("element_type", typ)
	}
	return strings.TrimSpace(string(res.Stdout)) == "true", nil
}

package engine

import (
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// Pipeline is one media graph plus its run-state machine.
type Pipeline struct {
	id     uuid.UUID
	name   string
	rt     *Runtime
	cfg    Config
	log    *logger.Logger
	events Emitter
	pipe   media.Pipeline
	bus    media.Bus
	rtprio *realtime

	mu     sync.Mutex
	seekMu sync.Mutex
	// seekSince is the unix nano time the seek mutex was taken by a
	// seek, zero when no seek is in flight.
	seekSince atomic.Int64

	elements  []Handle
	sidechain []Handle
	named     map[string]Handle
	owned     map[Handle]struct{}
	hardware  bool
	presence  *presenceDetector

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*pendingLink

	state        RunState
	running      bool
	stopped      bool
	targetRate   float64
	pipelineRate float64
	startTime    time.Time
	pumpDone     chan struct{}

	exiting        atomic.Bool
	shouldRun      atomic.Bool
	wasEverRunning atomic.Bool
	restarting     atomic.Bool
	startedAt      atomic.Int64
	loopEvery      rate.Sometimes
}

type pendingLink struct {
	id     uuid.UUID
	src    Handle
	dst    Handle
	filter string
	once   bool
	cancel func()
}

// NewPipeline creates an empty pipeline. Events are sent through events,
// which may be nil.
func (rt *Runtime) NewPipeline(cfg Config, events Emitter) (*Pipeline, error) {
	cfg.applyDefaults()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}
	if cfg.Name == "" {
		cfg.Name = "pipeline-" + id.String()
	}
	if events == nil {
		events = nopEmitter{}
	}
	log := cfg.Logger
	if log == nil {
		log = rt.log
	}
	log = log.WithPipeline(id.String())

	pipe, err := rt.fw.NewPipeline(cfg.Name)
	if err != nil {
		return nil, errors.Internal(err)
	}

	p := &Pipeline{
		id:           id,
		name:         cfg.Name,
		rt:           rt,
		cfg:          cfg,
		log:          log,
		events:       events,
		pipe:         pipe,
		bus:          pipe.Bus(),
		named:        make(map[string]Handle),
		owned:        make(map[Handle]struct{}),
		pending:      make(map[uuid.UUID]*pendingLink),
		targetRate:   1,
		pipelineRate: 1,
		loopEvery:    rate.Sometimes{Interval: loopInterval},
	}
	p.shouldRun.Store(true)
	p.wasEverRunning.Store(true)

	if cfg.Realtime > 0 {
		p.rtprio = newRealtime(cfg, p.bus, &p.startedAt, log)
		p.rtprio.install()
	}
	rt.register(p)
	log.Debug("pipeline created", logger.Fields("name", cfg.Name, "realtime", cfg.Realtime))
	return p, nil
}

// ID returns the pipeline identity. It is a UUIDv7 and embeds the
// creation time.
func (p *Pipeline) ID() uuid.UUID { return p.id }

func (p *Pipeline) Name() string { return p.name }

// State returns the engine-level run state.
func (p *Pipeline) State() RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Element returns the element behind h if it belongs to p.
func (p *Pipeline) Element(h Handle) (media.Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.elementLocked(h)
	return e.el, err == nil
}

// Lookup returns the handle of a named element.
func (p *Pipeline) Lookup(name string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.named[name]
	return h, ok
}

func (p *Pipeline) elementLocked(h Handle) (entry, error) {
	if _, ok := p.owned[h]; !ok {
		return entry{}, errors.NotFound("element", h.String())
	}
	e, ok := p.rt.arena.get(h)
	if !ok {
		return entry{}, errors.NotFound("element", h.String())
	}
	return e, nil
}

// AddElement creates, configures, adds and links an element.
func (p *Pipeline) AddElement(spec ElementSpec) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addElementLocked(spec)
}

func (p *Pipeline) addElementLocked(spec ElementSpec) (Handle, error) {
	if spec.Type == "" {
		return 0, errors.InvalidInput("type", "element type is required")
	}
	if p.stopped {
		return 0, errors.Conflict("pipeline is stopped")
	}

	// Targets are resolved first so a bad handle leaves the graph alone.
	var targets []Handle
	auto := false
	switch {
	case spec.Unlinked:
	case len(spec.ConnectToOutput) > 0:
		for _, t := range spec.ConnectToOutput {
			if _, ok := p.owned[t]; !ok {
				return 0, errors.InvalidInput("connect_to_output",
					"cannot connect to the output of "+t.String()+", no such element in pipeline")
			}
			targets = append(targets, t)
		}
	default:
		auto = true
	}

	el, err := p.rt.fw.Make(spec.Type, spec.Name)
	if err != nil {
		if stderrors.Is(err, media.ErrNoSuchElement) {
			return 0, errors.NoSuchElementType(spec.Type)
		}
		return 0, errors.Internal(err)
	}
	h := p.rt.arena.Put(el, spec.Type, p.id)
	p.owned[h] = struct{}{}

	for name, value := range spec.Properties {
		if err := p.setPropertyLocked(h, name, value); err != nil {
			p.releaseLocked(h)
			return 0, err
		}
	}
	if err := p.pipe.Add(el); err != nil {
		p.releaseLocked(h)
		return 0, errors.Internal(err)
	}

	if auto && len(p.elements) > 0 {
		targets = []Handle{p.elements[len(p.elements)-1]}
	}
	// Elements without inputs are never linked upstream.
	if !el.HasInput() {
		targets = nil
	}
	for _, t := range targets {
		if err := p.linkLocked(t, h, el, spec); err != nil {
			return 0, err
		}
	}

	if spec.Sidechain {
		p.sidechain = append(p.sidechain, h)
	} else {
		p.elements = append(p.elements, h)
	}
	if spec.Name != "" {
		p.named[spec.Name] = h
	}
	if strings.HasPrefix(spec.Type, HardwarePrefix) && !p.hardware {
		p.hardware = true
		p.rt.hardware.Join(p.id.String())
	}

	p.log.Debug("element added", logger.Fields(
		logger.FieldType, spec.Type, logger.FieldElement, el.Name(), "handle", uint64(h),
	))
	return h, nil
}

func (p *Pipeline) linkLocked(src, dst Handle, dstEl media.Element, spec ElementSpec) error {
	from, err := p.elementLocked(src)
	if err != nil {
		return err
	}
	// Terminal sinks have nothing to link from.
	if !from.el.HasOutput() {
		return nil
	}
	if from.el.DynamicPads() || spec.ConnectWhenAvailable || spec.CapsFilter != "" {
		p.addPendingLink(src, dst, from.el, spec.CapsFilter, spec.LinkOnce)
		return nil
	}

	linkErr := from.el.Link(dstEl)
	if linkErr == nil {
		return nil
	}
	if !spec.AutoInsertAudioConvert {
		return errors.LinkFailure(from.el.Name(), dstEl.Name(), linkErr)
	}

	p.log.Debug("inserting audioconvert", logger.Fields("src", from.el.Name(), "dst", dstEl.Name()))
	conv, err := p.addElementLocked(ElementSpec{Type: "audioconvert", ConnectToOutput: []Handle{src}})
	if err != nil {
		return err
	}
	convEl, _ := p.rt.arena.Element(conv)
	if err := convEl.Link(dstEl); err != nil {
		return errors.LinkFailure(convEl.Name(), dstEl.Name(), err)
	}
	return nil
}

func (p *Pipeline) releaseLocked(h Handle) {
	delete(p.owned, h)
	p.rt.arena.Release(h)
}

// addPendingLink registers a link resolved when src exposes a pad. The
// callback holds only a weak reference to p.
func (p *Pipeline) addPendingLink(src, dst Handle, srcEl media.Element, filter string, once bool) {
	pl := &pendingLink{id: uuid.New(), src: src, dst: dst, filter: filter, once: once}
	wp := weak.Make(p)
	id := pl.id

	p.pendingMu.Lock()
	p.pending[id] = pl
	p.pendingMu.Unlock()

	cancel := srcEl.OnPadAdded(func(pad media.Pad) {
		if owner := wp.Value(); owner != nil {
			owner.resolvePending(id, pad)
		}
	})
	p.pendingMu.Lock()
	pl.cancel = cancel
	p.pendingMu.Unlock()
	p.log.Debug("pending link registered", logger.Fields("link_id", id.String(), "filter", filter))
}

// resolvePending runs on a framework thread and must not take p.mu.
func (p *Pipeline) resolvePending(id uuid.UUID, pad media.Pad) {
	caps := pad.Caps().String()

	p.pendingMu.Lock()
	pl, ok := p.pending[id]
	if !ok || pl.filter != "" && !strings.Contains(caps, pl.filter) {
		p.pendingMu.Unlock()
		return
	}
	var cancel func()
	if pl.once {
		delete(p.pending, id)
		cancel = pl.cancel
	}
	p.pendingMu.Unlock()
	if cancel != nil {
		cancel()
	}

	dst, ok := p.rt.arena.Element(pl.dst)
	if !ok {
		return
	}
	if err := pad.Link(dst); err != nil {
		p.log.Warn("pending link failed", logger.Fields(
			"link_id", id.String(), "pad", pad.Name(), "caps", caps, logger.FieldError, err.Error(),
		))
		return
	}
	p.log.Debug("pending link resolved", logger.Fields("link_id", id.String(), "pad", pad.Name(), "caps", caps))
}

// PendingLinks returns the number of unresolved pending links.
func (p *Pipeline) PendingLinks() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

func (p *Pipeline) dropPendingLinks() {
	p.pendingMu.Lock()
	cancels := make([]func(), 0, len(p.pending))
	for _, pl := range p.pending {
		if pl.cancel != nil {
			cancels = append(cancels, pl.cancel)
		}
	}
	clear(p.pending)
	p.pendingMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (p *Pipeline) emit(method bridge.Method, params any) {
	if err := p.events.Notify(method, params); err != nil {
		p.log.Debug("event not delivered", logger.Fields(logger.FieldMethod, string(method), logger.FieldError, err.Error()))
	}
}

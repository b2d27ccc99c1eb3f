package engine

import (
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// Runtime is the process-wide context shared by every pipeline of one
// worker. Several runtimes may coexist in one process.
type Runtime struct {
	fw       media.Framework
	arena    *Arena
	hardware ChannelRegistry
	log      *logger.Logger

	mu   sync.Mutex
	live map[uuid.UUID]weak.Pointer[Pipeline]
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithChannelRegistry replaces the default hardware channel registry.
func WithChannelRegistry(reg ChannelRegistry) RuntimeOption {
	return func(rt *Runtime) { rt.hardware = reg }
}

// WithLogger sets the runtime logger.
func WithLogger(l *logger.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.log = l }
}

// NewRuntime returns a runtime bound to fw.
func NewRuntime(fw media.Framework, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		fw:    fw,
		arena: NewArena(),
		live:  make(map[uuid.UUID]weak.Pointer[Pipeline]),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.hardware == nil {
		rt.hardware = NewHardwareChannels()
	}
	if rt.log == nil {
		rt.log = logger.Get("engine")
	}
	return rt
}

// Arena returns the runtime's handle arena.
func (rt *Runtime) Arena() *Arena { return rt.arena }

// Hardware returns the hardware channel registry.
func (rt *Runtime) Hardware() ChannelRegistry { return rt.hardware }

// ElementExists reports whether the framework can make elementType.
func (rt *Runtime) ElementExists(elementType string) bool {
	return rt.fw.Exists(elementType)
}

// Live returns the pipelines that have not been stopped.
func (rt *Runtime) Live() []*Pipeline {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Pipeline, 0, len(rt.live))
	for id, wp := range rt.live {
		p := wp.Value()
		if p == nil {
			delete(rt.live, id)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Close stops every live pipeline.
func (rt *Runtime) Close() {
	for _, p := range rt.Live() {
		p.Stop()
	}
}

func (rt *Runtime) register(p *Pipeline) {
	rt.mu.Lock()
	rt.live[p.id] = weak.Make(p)
	rt.mu.Unlock()
}

func (rt *Runtime) forget(id uuid.UUID) {
	rt.mu.Lock()
	delete(rt.live, id)
	rt.mu.Unlock()
}

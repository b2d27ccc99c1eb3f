package engine

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// PrioritySetter raises the scheduling priority of one OS thread.
type PrioritySetter interface {
	SetPriority(tid, priority int) error
}

// PriorityFunc adapts a function to PrioritySetter.
type PriorityFunc func(tid, priority int) error

func (f PriorityFunc) SetPriority(tid, priority int) error { return f(tid, priority) }

// realtime elevates every streaming thread once. It runs on framework
// threads and must never take the pipeline's general mutex.
type realtime struct {
	setter   PrioritySetter
	priority int
	bus      media.Bus
	log      *logger.Logger
	started  *atomic.Int64

	mu       sync.Mutex
	threads  map[int]struct{}
	disabled atomic.Bool
}

func newRealtime(cfg Config, bus media.Bus, started *atomic.Int64, log *logger.Logger) *realtime {
	return &realtime{
		setter:   cfg.Priority,
		priority: cfg.Realtime,
		bus:      bus,
		log:      log,
		started:  started,
		threads:  make(map[int]struct{}),
	}
}

func (r *realtime) install() {
	r.bus.SetSyncHandler(r.handle)
}

func (r *realtime) uninstall() {
	r.disabled.Store(true)
	r.bus.SetSyncHandler(nil)
}

// handle is the bus sync handler.
func (r *realtime) handle(_ *media.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("realtime handler panic", logger.Fields(
				"panic", fmt.Sprint(rec), "stack", string(debug.Stack()),
			))
		}
	}()
	if r.disabled.Load() {
		return
	}

	tid := currentThreadID()
	r.mu.Lock()
	_, seen := r.threads[tid]
	if !seen {
		r.threads[tid] = struct{}{}
	}
	known := len(r.threads)
	r.mu.Unlock()

	if !seen {
		if err := r.setter.SetPriority(tid, r.priority); err != nil {
			r.log.Warn("failed to set realtime priority", logger.Fields("tid", tid, logger.FieldError, err.Error()))
		} else {
			r.log.Debug("realtime priority set", logger.Fields("tid", tid, "priority", r.priority))
		}
	}

	// Once threads are known the handler only costs time.
	start := r.started.Load()
	if known > 0 && start != 0 && time.Since(time.Unix(0, start)) > realtimeGrace {
		if r.disabled.CompareAndSwap(false, true) {
			go r.bus.SetSyncHandler(nil)
		}
	}
}

// Threads returns the number of distinct threads seen.
func (r *realtime) Threads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/iceflow/media"
)

// Options tunes the simulated timing.
type Options struct {
	// Tick is the buffer interval of every source. Default 20ms.
	Tick time.Duration
	// StateDelay is the time each single state step takes. Default 5ms.
	StateDelay time.Duration
	// ClockDelay is how long after prerolling the position becomes valid.
	ClockDelay time.Duration
	// NeverValidClock keeps Position failing forever.
	NeverValidClock bool
	// FileDuration is the stream length of a filesrc. Default 10s.
	FileDuration time.Duration
}

func (o *Options) applyDefaults() {
	if o.Tick <= 0 {
		o.Tick = 20 * time.Millisecond
	}
	if o.StateDelay <= 0 {
		o.StateDelay = 5 * time.Millisecond
	}
	if o.FileDuration <= 0 {
		o.FileDuration = 10 * time.Second
	}
}

// Framework implements media.Framework.
type Framework struct {
	opts   Options
	seqnum atomic.Uint32

	mu     sync.Mutex
	counts map[string]int
}

var _ media.Framework = (*Framework)(nil)

// New returns a framework with the given options.
func New(opts Options) *Framework {
	opts.applyDefaults()
	return &Framework{opts: opts, counts: make(map[string]int)}
}

// Exists reports whether elementType is supported.
func (f *Framework) Exists(elementType string) bool {
	_, ok := registry[elementType]
	return ok
}

// Make creates an element. An empty name is replaced by type plus a counter.
func (f *Framework) Make(elementType, name string) (media.Element, error) {
	e, err := f.make(elementType, name)
	if err != nil {
		return nil, err
	}
	if e.appsink != nil {
		return e.appsink, nil
	}
	return e, nil
}

func (f *Framework) make(elementType, name string) (*element, error) {
	info, ok := registry[elementType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrNoSuchElement, elementType)
	}
	if name == "" {
		f.mu.Lock()
		name = fmt.Sprintf("%s%d", elementType, f.counts[elementType])
		f.counts[elementType]++
		f.mu.Unlock()
	}

	e := newElement(f, elementType, name, info)
	if info.child != "" {
		c, err := f.make(info.child, name+"-actual-sink")
		if err != nil {
			return nil, err
		}
		e.children = append(e.children, c)
	}
	if elementType == "appsink" {
		e.appsink = newAppSink(e)
	}
	return e, nil
}

// NewPipeline creates an empty pipeline.
func (f *Framework) NewPipeline(name string) (media.Pipeline, error) {
	return newPipeline(f, name), nil
}

func (f *Framework) nextSeqnum() uint32 {
	return f.seqnum.Add(1)
}

package sim

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/kbukum/iceflow/media"
)

type pipeline struct {
	fw   *Framework
	name string
	bus  *bus

	mu       sync.Mutex
	cond     *sync.Cond
	elements []*element

	state         media.State
	target        media.State
	transitioning bool
	prerolledAt   time.Time
	stop          chan struct{}

	position  time.Duration
	rate      float64
	segment   bool
	segSeqnum uint32
	finished  bool
	failed    map[*element]bool
}

var _ media.Pipeline = (*pipeline)(nil)

func newPipeline(f *Framework, name string) *pipeline {
	p := &pipeline{
		fw:     f,
		name:   name,
		bus:    newBus(),
		rate:   1,
		failed: make(map[*element]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeline) Bus() media.Bus { return p.bus }

func (p *pipeline) Add(e media.Element) error {
	n, ok := e.(node)
	if !ok {
		return stderrors.New("sim: foreign element")
	}
	el := n.node()

	p.mu.Lock()
	defer p.mu.Unlock()
	if el.pipeline != nil {
		return fmt.Errorf("%s already has a parent", el.name)
	}
	el.pipeline = p
	p.elements = append(p.elements, el)
	return nil
}

func (p *pipeline) State() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *pipeline) SetState(s media.State) error {
	if s < media.StateNull || s > media.StatePlaying {
		return fmt.Errorf("sim: invalid state %d", s)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = s
	p.cond.Broadcast()
	if !p.transitioning {
		p.transitioning = true
		go p.transition()
	}
	return nil
}

// transition walks one state at a time towards the target.
func (p *pipeline) transition() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		p.mu.Lock()
		if p.state == p.target {
			p.transitioning = false
			p.mu.Unlock()
			return
		}
		next := p.state + 1
		if p.target < p.state {
			next = p.state - 1
		}
		p.mu.Unlock()

		time.Sleep(p.fw.opts.StateDelay)
		if err := p.enter(next); err != nil {
			p.mu.Lock()
			p.target = p.state
			p.transitioning = false
			p.mu.Unlock()
			return
		}
	}
}

func (p *pipeline) enter(next media.State) error {
	p.mu.Lock()
	prev := p.state
	if prev == media.StateReady && next == media.StatePaused {
		src, err := p.checkSourcesLocked()
		if err != nil {
			p.mu.Unlock()
			p.post(&media.Message{Type: media.MessageError, Src: src, Err: err, Debug: "filesrc: could not open resource"})
			return err
		}
		padded := p.prerollLocked()
		p.mu.Unlock()

		// Pads appear before the state is reached.
		for _, fn := range padded {
			fn()
		}
		p.mu.Lock()
		p.prerolledAt = time.Now()
	}

	switch {
	case prev == media.StatePaused && next == media.StatePlaying:
		p.stop = make(chan struct{})
		p.startStreamsLocked(p.stop)
	case prev == media.StatePlaying && next == media.StatePaused:
		close(p.stop)
		p.stop = nil
	case prev == media.StatePaused && next == media.StateReady:
		p.position = 0
		p.finished = false
		p.segment = false
		p.rate = 1
		clear(p.failed)
	}
	p.state = next
	p.cond.Broadcast()
	p.mu.Unlock()

	p.post(&media.Message{
		Type: media.MessageStateChanged,
		Src:  p.name,
		Structure: media.NewStructure("state-changed", map[string]any{
			"old-state": prev.String(),
			"new-state": next.String(),
		}),
	})
	return nil
}

func (p *pipeline) checkSourcesLocked() (string, error) {
	for _, e := range p.elements {
		if e.typ != "filesrc" {
			continue
		}
		loc, _ := e.prop("location").(string)
		if loc == "" {
			return e.name, stderrors.New("no file name specified for reading")
		}
		if _, err := os.Stat(loc); err != nil {
			return e.name, fmt.Errorf("could not open file %q for reading: %w", loc, err)
		}
	}
	return "", nil
}

// prerollLocked creates the dynamic pads of decoders fed by a file and
// returns the pad-added calls to run once the lock is released.
func (p *pipeline) prerollLocked() []func() {
	var calls []func()
	for _, e := range p.elements {
		if !e.info.dynamic || len(e.pads) > 0 {
			continue
		}
		for i, c := range decodedStreams(e.root()) {
			pd := &pad{owner: e, name: fmt.Sprintf("src_%d", i), caps: c}
			e.pads = append(e.pads, pd)
			for _, fn := range e.padCallbacks() {
				calls = append(calls, func() { fn(pd) })
			}
		}
	}
	return calls
}

var (
	decodedAudio = media.MustParseCaps("audio/x-raw, format=F32LE, layout=interleaved, rate=48000, channels=2")
	decodedVideo = media.MustParseCaps("video/x-raw, format=I420, width=640, height=480, framerate=25/1")
)

func decodedStreams(src *element) []media.Caps {
	if src.typ != "filesrc" {
		return nil
	}
	loc, _ := src.prop("location").(string)
	switch filepath.Ext(loc) {
	case ".mp4", ".mkv", ".webm", ".avi", ".mov":
		return []media.Caps{decodedVideo, decodedAudio}
	default:
		return []media.Caps{decodedAudio}
	}
}

func (p *pipeline) Seek(req media.SeekRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Flags&media.SeekFlush == 0 {
		// A non-flushing seek needs data flowing to complete.
		for p.state == media.StatePaused && p.target != media.StateNull {
			p.cond.Wait()
		}
	}
	if p.state < media.StatePaused {
		return fmt.Errorf("sim: cannot seek in state %s", p.state)
	}

	if req.HasStart {
		p.position = max(req.Start, 0)
	}
	p.rate = req.Rate
	if p.rate == 0 {
		p.rate = 1
	}
	p.segment = req.Flags&media.SeekSegment != 0
	p.segSeqnum = p.fw.nextSeqnum()
	p.finished = false
	return nil
}

func (p *pipeline) Position() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state < media.StatePaused || p.fw.opts.NeverValidClock {
		return 0, media.ErrClockNotValid
	}
	if time.Since(p.prerolledAt) < p.fw.opts.ClockDelay {
		return 0, media.ErrClockNotValid
	}
	return p.position, nil
}

func (p *pipeline) SendEOS() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
	p.post(&media.Message{Type: media.MessageEOS, Src: p.name, Seqnum: p.fw.nextSeqnum()})
}

func (p *pipeline) post(m *media.Message) {
	if m.Seqnum == 0 {
		m.Seqnum = p.fw.nextSeqnum()
	}
	p.bus.post(m)
}

// duration returns the stream length, or zero when any source is endless.
func (p *pipeline) durationLocked() time.Duration {
	var d time.Duration
	for _, e := range p.elements {
		if !e.info.source {
			continue
		}
		var sd time.Duration
		if n, _ := e.prop("num-buffers").(int64); n > 0 {
			sd = time.Duration(n) * p.fw.opts.Tick
		} else if e.typ == "filesrc" {
			sd = p.fw.opts.FileDuration
		} else {
			return 0
		}
		d = max(d, sd)
	}
	return d
}

func (p *pipeline) startStreamsLocked(stop <-chan struct{}) {
	go p.clock(stop)
	for _, e := range p.elements {
		if e.info.source {
			go p.stream(e, stop)
		}
	}
}

// clock advances the position while PLAYING and ends the segment.
func (p *pipeline) clock(stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tick := p.fw.opts.Tick
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		p.mu.Lock()
		if p.finished {
			p.mu.Unlock()
			continue
		}
		p.position += time.Duration(float64(tick) * p.rate)
		p.position = max(p.position, 0)
		d := p.durationLocked()
		if d == 0 || p.position < d {
			p.mu.Unlock()
			continue
		}
		p.position = d
		p.finished = true
		msg := &media.Message{Type: media.MessageEOS, Src: p.name, Seqnum: p.segSeqnum}
		if p.segment {
			msg.Type = media.MessageSegmentDone
		}
		p.mu.Unlock()
		p.post(msg)
	}
}

// stream is the streaming thread of one source.
func (p *pipeline) stream(src *element, stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.post(&media.Message{
		Type:      media.MessageStreamStatus,
		Src:       src.name,
		Structure: media.NewStructure("stream-status", map[string]any{"type": "enter"}),
	})

	t := time.NewTicker(p.fw.opts.Tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		for _, m := range p.streamTick(src) {
			p.post(m)
		}
	}
}

func (p *pipeline) streamTick(src *element) []*media.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished || p.failed[src] {
		return nil
	}

	var msgs []*media.Message
	tick := int64(p.fw.opts.Tick)
	queue := src.downstream()
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		out, ok := e.process(p, src, tick)
		msgs = append(msgs, out...)
		if !ok {
			p.failed[src] = true
			break
		}
		queue = append(queue, e.downstream()...)
	}
	src.buffers++
	return msgs
}

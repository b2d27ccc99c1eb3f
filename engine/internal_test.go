package engine

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/media"
	"github.com/kbukum/iceflow/media/sim"
)

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	rt := NewRuntime(sim.New(sim.Options{Tick: 5 * time.Millisecond, StateDelay: time.Millisecond}))
	p, err := rt.NewPipeline(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Stop)
	for _, typ := range []string{"audiotestsrc", "level", "fakesink"} {
		if _, err := p.AddElement(ElementSpec{Type: typ}); err != nil {
			t.Fatalf("AddElement(%s): %v", typ, err)
		}
	}
	return p
}

func TestNormalizeProperty(t *testing.T) {
	tests := []struct {
		in      string
		child   int
		prop    string
		wantErr bool
	}{
		{"volume", -1, "volume", false},
		{"_volume", -1, "volume", false},
		{"num_buffers", -1, "num-buffers", false},
		{"__x", -1, "-x", false},
		{"0:volume", 0, "volume", false},
		{"2:max_buffers", 2, "max-buffers", false},
		{"x:volume", 0, "", true},
		{"-1:volume", 0, "", true},
	}
	for _, tc := range tests {
		child, prop, err := normalizeProperty(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || child != tc.child || prop != tc.prop {
			t.Errorf("%q: got (%d, %q, %v), want (%d, %q)", tc.in, child, prop, err, tc.child, tc.prop)
		}
	}
}

func TestExportValue(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{true, true},
		{int64(3), 3.0},
		{uint64(7), 7.0},
		{0.5, 0.5},
		{"1.5", 1.5},
		{"inf", "inf"},
		{"NaN", "NaN"},
		{"hw:0", "hw:0"},
		{media.MustParseCaps("audio/x-raw, rate=48000"), "audio/x-raw, rate=48000"},
	}
	for _, tc := range tests {
		if got := exportValue(tc.in); got != tc.want {
			t.Errorf("exportValue(%v) = %v (%T), want %v", tc.in, got, got, tc.want)
		}
	}
}

func TestPresenceRegion(t *testing.T) {
	still := rgbFrame{w: 8, h: 8, pix: make([]byte, 8*8*3)}
	var r presenceRegion
	if v := r.poll(still); v != 0 {
		t.Errorf("first frame should score 0, got %v", v)
	}
	if v := r.poll(still); v != 0 {
		t.Errorf("identical frames should score 0, got %v", v)
	}

	// A bright block survives the erosion; one pixel does not.
	moved := rgbFrame{w: 8, h: 8, pix: make([]byte, 8*8*3)}
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			o := (y*8 + x) * 3
			moved.pix[o], moved.pix[o+1], moved.pix[o+2] = 255, 255, 255
		}
	}
	if v := r.poll(moved); v <= 0 || math.IsNaN(v) {
		t.Errorf("expected a positive score for a moved block, got %v", v)
	}

	speck := rgbFrame{w: 8, h: 8, pix: make([]byte, 8*8*3)}
	speck.pix[(3*8+3)*3] = 255
	var s presenceRegion
	s.poll(still)
	if v := s.poll(speck); v != 0 {
		t.Errorf("single pixel noise should be eroded, got %v", v)
	}
}

func TestRGBFrameCrop(t *testing.T) {
	f := rgbFrame{w: 4, h: 2, pix: make([]byte, 4*2*3)}
	for i := range f.pix {
		f.pix[i] = byte(i)
	}
	c := f.crop(2, 0, 4, 2)
	if c.w != 2 || c.h != 2 || len(c.pix) != 12 {
		t.Fatalf("unexpected crop %dx%d (%d bytes)", c.w, c.h, len(c.pix))
	}
	if c.pix[0] != 6 || c.pix[6] != 18 {
		t.Errorf("crop copied the wrong pixels: %v", c.pix)
	}
	if e := f.crop(3, 1, 3, 2); e.w != 0 {
		t.Errorf("expected empty crop, got %dx%d", e.w, e.h)
	}
}

func TestJamBreaker(t *testing.T) {
	p := newTestPipeline(t, Config{})
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	p.seekMu.Lock()
	p.seekSince.Store(time.Now().UnixNano())
	p.breakSeekJam()
	time.Sleep(50 * time.Millisecond)
	if s := p.pipe.State(); s != media.StatePaused {
		t.Errorf("a fresh seek must not be broken, state %s", s)
	}

	p.seekSince.Store(time.Now().Add(-time.Second).UnixNano())
	p.breakSeekJam()
	if err := p.waitForState(media.StatePlaying, time.Second); err != nil {
		t.Errorf("expected PLAYING after a jammed seek: %v", err)
	}
	p.seekSince.Store(0)
	p.seekMu.Unlock()
}

func TestSeek_PausedWhileInFlight(t *testing.T) {
	p := newTestPipeline(t, Config{})
	if err := p.Start(StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.seekMu.Lock()
	errc := make(chan error, 1)
	go func() {
		flush := false
		errc <- p.Seek(SeekOptions{Flush: &flush})
	}()
	time.Sleep(20 * time.Millisecond)
	if err := p.pipe.SetState(media.StatePaused); err != nil {
		t.Fatal(err)
	}
	if err := p.waitForState(media.StatePaused, time.Second); err != nil {
		t.Fatal(err)
	}
	p.seekMu.Unlock()

	err := <-errc
	if !errors.HasCode(err, errors.ErrCodeSeekDeadlockRisk) {
		t.Fatalf("expected SEEK_DEADLOCK_RISK, got %v", err)
	}
}

func TestSetState_BoundedBySeekLock(t *testing.T) {
	p := newTestPipeline(t, Config{})
	p.seekMu.Lock()
	defer p.seekMu.Unlock()

	start := time.Now()
	if err := p.setState(media.StatePaused); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < stateSeekWait || d > stateSeekWait+time.Second {
		t.Errorf("expected to wait about %s for the seek lock, waited %s", stateSeekWait, d)
	}
	if err := p.waitForState(media.StatePaused, time.Second); err != nil {
		t.Errorf("state change should proceed without the seek lock: %v", err)
	}
}

func TestRealtime_ElevatesEachThreadOnce(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[int]int)
	setter := PriorityFunc(func(tid, priority int) error {
		if priority != 7 {
			t.Errorf("expected priority 7, got %d", priority)
		}
		mu.Lock()
		calls[tid]++
		mu.Unlock()
		return nil
	})

	p := newTestPipeline(t, Config{Realtime: 7, Priority: setter})
	if err := p.Start(StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 {
		t.Fatal("expected at least one thread elevated")
	}
	for tid, n := range calls {
		if n != 1 {
			t.Errorf("thread %d elevated %d times", tid, n)
		}
	}
	if got := p.rtprio.Threads(); got != len(calls) {
		t.Errorf("expected %d known threads, got %d", len(calls), got)
	}
}

func TestRealtime_RemovesItselfAfterGrace(t *testing.T) {
	p := newTestPipeline(t, Config{Realtime: 1, Priority: PriorityFunc(func(int, int) error { return nil })})
	if err := p.Start(StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.startedAt.Store(time.Now().Add(-time.Minute).UnixNano())

	deadline := time.Now().Add(2 * time.Second)
	for !p.rtprio.disabled.Load() {
		if time.Now().After(deadline) {
			t.Fatal("expected the sync handler to disable itself")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRealtime_GraceStartsOnPause(t *testing.T) {
	p := newTestPipeline(t, Config{Realtime: 1, Priority: PriorityFunc(func(int, int) error { return nil })})
	if p.startedAt.Load() != 0 {
		t.Fatal("grace clock should not run before the first state change")
	}
	before := time.Now().UnixNano()
	if err := p.setState(media.StatePaused); err != nil {
		t.Fatal(err)
	}
	first := p.startedAt.Load()
	if first < before {
		t.Fatalf("expected grace clock set on PAUSED, got %d", first)
	}
	if err := p.setState(media.StatePaused); err != nil {
		t.Fatal(err)
	}
	if got := p.startedAt.Load(); got != first {
		t.Errorf("grace clock moved on a later state change: %d != %d", got, first)
	}
}

func TestRealtime_HandlerRecoversFromPanic(t *testing.T) {
	p := newTestPipeline(t, Config{Realtime: 1, Priority: PriorityFunc(func(int, int) error { panic("boom") })})
	if err := p.Start(StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := p.Position(); err != nil {
		t.Errorf("pipeline should keep running: %v", err)
	}
}

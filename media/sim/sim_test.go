package sim_test

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/iceflow/media"
	"github.com/kbukum/iceflow/media/sim"
)

func newFramework() *sim.Framework {
	return sim.New(sim.Options{Tick: 5 * time.Millisecond, StateDelay: time.Millisecond})
}

func mustMake(t *testing.T, fw *sim.Framework, p media.Pipeline, typ string) media.Element {
	t.Helper()
	e, err := fw.Make(typ, "")
	if err != nil {
		t.Fatalf("make %s: %v", typ, err)
	}
	if p != nil {
		if err := p.Add(e); err != nil {
			t.Fatalf("add %s: %v", typ, err)
		}
	}
	return e
}

func waitState(t *testing.T, p media.Pipeline, want media.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state: got %s, want %s", p.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

// popUntil returns the first message of type want, or nil after timeout.
func popUntil(b media.Bus, want media.MessageType, timeout time.Duration) *media.Message {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m := b.Pop(10 * time.Millisecond); m != nil && m.Type == want {
			return m
		}
	}
	return nil
}

func TestMake_UnknownType(t *testing.T) {
	fw := newFramework()
	_, err := fw.Make("warpdrive", "")
	if !stderrors.Is(err, media.ErrNoSuchElement) {
		t.Fatalf("expected ErrNoSuchElement, got %v", err)
	}
	if fw.Exists("warpdrive") || !fw.Exists("queue") {
		t.Error("Exists disagrees with Make")
	}
}

func TestMake_NamesAreUnique(t *testing.T) {
	fw := newFramework()
	a := mustMake(t, fw, nil, "queue")
	b := mustMake(t, fw, nil, "queue")
	if a.Name() == b.Name() {
		t.Fatalf("expected distinct names, both %q", a.Name())
	}
}

func TestProperty_Conversion(t *testing.T) {
	fw := newFramework()
	tests := []struct {
		typ   string
		name  string
		value any
		want  any
	}{
		{"volume", "volume", 0.25, 0.25},
		{"volume", "mute", true, true},
		{"queue", "max-size-buffers", 10.0, uint64(10)},
		{"audiotestsrc", "wave", 4.0, int64(4)},
		{"audiotestsrc", "is-live", "true", true},
		{"filesrc", "location", "/tmp/x", "/tmp/x"},
	}
	for _, tc := range tests {
		t.Run(tc.typ+"."+tc.name, func(t *testing.T) {
			e := mustMake(t, fw, nil, tc.typ)
			if err := e.SetProperty(tc.name, tc.value); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := e.Property(tc.name)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
		})
	}
}

func TestProperty_Rejected(t *testing.T) {
	fw := newFramework()
	q := mustMake(t, fw, nil, "queue")
	if err := q.SetProperty("no-such", 1); err == nil {
		t.Error("expected unknown property to fail")
	}
	if err := q.SetProperty("current-level-time", 1); err == nil {
		t.Error("expected read-only property to fail")
	}
	if err := q.SetProperty("leaky", 1.5); err == nil {
		t.Error("expected fractional integer to fail")
	}
	if err := q.SetProperty("max-size-time", -1.0); err == nil {
		t.Error("expected negative unsigned to fail")
	}
	src := mustMake(t, fw, nil, "audiotestsrc")
	if err := src.SetProperty("freq", "880"); err == nil {
		t.Error("expected string for a float property to fail")
	}
	if err := q.SetProperty("max-size-buffers", "10"); err == nil {
		t.Error("expected string for an unsigned property to fail")
	}
}

func TestProperty_CapsAndStructure(t *testing.T) {
	fw := newFramework()
	cf := mustMake(t, fw, nil, "capsfilter")
	if err := cf.SetProperty("caps", media.MustParseCaps("video/x-raw, width=64")); err != nil {
		t.Fatal(err)
	}
	got, _ := cf.Property("caps")
	if c := got.(media.Caps); c.Media != "video/x-raw" {
		t.Errorf("caps media: got %q", c.Media)
	}

	src := mustMake(t, fw, nil, "v4l2src")
	s := media.NewStructure("controls", map[string]any{"brightness": 10})
	if err := src.SetProperty("extra-controls", s); err != nil {
		t.Fatal(err)
	}
	got, _ = src.Property("extra-controls")
	if got.(*media.Structure).Name != "controls" {
		t.Errorf("structure not stored: %v", got)
	}
}

func TestChild_AutoSink(t *testing.T) {
	fw := newFramework()
	sink := mustMake(t, fw, nil, "autoaudiosink")
	c, err := sink.Child(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetProperty("sync", false); err != nil {
		t.Fatalf("child property: %v", err)
	}
	if _, err := sink.Child(1); err == nil {
		t.Error("expected out of range child to fail")
	}
}

func TestLink_Negotiation(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("link")

	src := mustMake(t, fw, p, "audiotestsrc")
	jack := mustMake(t, fw, p, "jackaudiosink")
	if err := src.Link(jack); err == nil {
		t.Fatal("expected S16LE into jackaudiosink to fail")
	}

	conv := mustMake(t, fw, p, "audioconvert")
	if err := src.Link(conv); err != nil {
		t.Fatal(err)
	}
	if err := conv.Link(jack); err != nil {
		t.Fatalf("expected link through audioconvert, got %v", err)
	}

	video := mustMake(t, fw, p, "videoconvert")
	other := mustMake(t, fw, p, "audiotestsrc")
	if err := other.Link(video); err == nil {
		t.Error("expected audio into video element to fail")
	}
}

func TestLink_PadCounts(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("pads")

	src := mustMake(t, fw, p, "videotestsrc")
	a := mustMake(t, fw, p, "fakesink")
	b := mustMake(t, fw, p, "fakesink")
	if err := src.Link(a); err != nil {
		t.Fatal(err)
	}
	if err := src.Link(b); err == nil {
		t.Error("expected second link from a single-pad source to fail")
	}
	if err := a.Link(b); err == nil {
		t.Error("expected link from a sink to fail")
	}

	tee := mustMake(t, fw, p, "tee")
	for range 3 {
		if err := tee.Link(mustMake(t, fw, p, "fakesink")); err != nil {
			t.Fatalf("tee link: %v", err)
		}
	}

	loose := mustMake(t, fw, nil, "fakesink")
	if err := tee.Link(loose); err == nil {
		t.Error("expected link across pipelines to fail")
	}
}

func TestStateAndPosition(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("clock")
	src := mustMake(t, fw, p, "audiotestsrc")
	sink := mustMake(t, fw, p, "fakesink")
	if err := src.Link(sink); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Position(); !stderrors.Is(err, media.ErrClockNotValid) {
		t.Fatalf("expected invalid clock in NULL, got %v", err)
	}

	_ = p.SetState(media.StatePlaying)
	waitState(t, p, media.StatePlaying)
	time.Sleep(50 * time.Millisecond)
	first, err := p.Position()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	second, _ := p.Position()
	if second <= first {
		t.Errorf("position did not advance: %v then %v", first, second)
	}

	_ = p.SetState(media.StateNull)
	waitState(t, p, media.StateNull)
}

func TestSeek_NonFlushBlocksWhilePaused(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("seek")
	src := mustMake(t, fw, p, "videotestsrc")
	sink := mustMake(t, fw, p, "fakesink")
	_ = src.Link(sink)

	_ = p.SetState(media.StatePaused)
	waitState(t, p, media.StatePaused)

	done := make(chan error, 1)
	go func() { done <- p.Seek(media.SeekRequest{Rate: 1, Start: time.Second, HasStart: true}) }()

	select {
	case err := <-done:
		t.Fatalf("non-flushing seek returned while paused: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_ = p.SetState(media.StatePlaying)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("seek still blocked after PLAYING")
	}
	_ = p.SetState(media.StateNull)
}

func TestSeek_FlushMovesPosition(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("flush")
	_ = p.Add(mustMake(t, fw, nil, "videotestsrc"))

	if err := p.Seek(media.SeekRequest{Rate: 1, Flags: media.SeekFlush}); err == nil {
		t.Error("expected seek in NULL to fail")
	}

	_ = p.SetState(media.StatePaused)
	waitState(t, p, media.StatePaused)
	if err := p.Seek(media.SeekRequest{Rate: 1, Flags: media.SeekFlush, Start: 3 * time.Second, HasStart: true}); err != nil {
		t.Fatal(err)
	}
	pos, _ := p.Position()
	if pos != 3*time.Second {
		t.Errorf("position: got %v, want 3s", pos)
	}
	_ = p.SetState(media.StateNull)
}

func TestEOS_FiniteSource(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("eos")
	src := mustMake(t, fw, p, "audiotestsrc")
	_ = src.SetProperty("num-buffers", 4)
	sink := mustMake(t, fw, p, "fakesink")
	_ = src.Link(sink)

	_ = p.SetState(media.StatePlaying)
	if popUntil(p.Bus(), media.MessageEOS, 2*time.Second) == nil {
		t.Fatal("no EOS")
	}
	_ = p.SetState(media.StateNull)
}

func TestSegmentDone_CarriesSeekSeqnum(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("segment")
	src := mustMake(t, fw, p, "audiotestsrc")
	_ = src.SetProperty("num-buffers", 4)
	sink := mustMake(t, fw, p, "fakesink")
	_ = src.Link(sink)

	_ = p.SetState(media.StatePaused)
	waitState(t, p, media.StatePaused)
	if err := p.Seek(media.SeekRequest{Rate: 1, Flags: media.SeekFlush | media.SeekSegment, HasStart: true}); err != nil {
		t.Fatal(err)
	}
	_ = p.SetState(media.StatePlaying)

	first := popUntil(p.Bus(), media.MessageSegmentDone, 2*time.Second)
	if first == nil {
		t.Fatal("no SEGMENT_DONE")
	}

	// A new segment seek restarts the stream with a new seqnum.
	if err := p.Seek(media.SeekRequest{Rate: 1, Flags: media.SeekFlush | media.SeekSegment, HasStart: true}); err != nil {
		t.Fatal(err)
	}
	second := popUntil(p.Bus(), media.MessageSegmentDone, 2*time.Second)
	if second == nil {
		t.Fatal("no second SEGMENT_DONE")
	}
	if second.Seqnum == first.Seqnum {
		t.Error("expected distinct seqnums per segment")
	}
	_ = p.SetState(media.StateNull)
}

func TestDecodebin_PadAdded(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	fw := newFramework()
	p, _ := fw.NewPipeline("decode")
	src := mustMake(t, fw, p, "filesrc")
	_ = src.SetProperty("location", file)
	dec := mustMake(t, fw, p, "decodebin")
	if err := src.Link(dec); err != nil {
		t.Fatal(err)
	}
	if !dec.DynamicPads() {
		t.Fatal("decodebin should have dynamic pads")
	}

	conv := mustMake(t, fw, p, "audioconvert")
	var mu sync.Mutex
	var caps []string
	dec.OnPadAdded(func(pad media.Pad) {
		mu.Lock()
		caps = append(caps, pad.Caps().String())
		mu.Unlock()
		if pad.Caps().Media == "audio/x-raw" {
			if err := pad.Link(conv); err != nil {
				t.Errorf("pad link: %v", err)
			}
		}
	})

	_ = p.SetState(media.StatePaused)
	waitState(t, p, media.StatePaused)

	mu.Lock()
	defer mu.Unlock()
	if len(caps) != 2 {
		t.Fatalf("expected video and audio pads, got %v", caps)
	}
	_ = p.SetState(media.StateNull)
}

func TestFilesrc_MissingLocationFails(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("missing")
	src := mustMake(t, fw, p, "filesrc")
	_ = src.SetProperty("location", "/nonexistent/clip.wav")

	_ = p.SetState(media.StatePaused)
	msg := popUntil(p.Bus(), media.MessageError, time.Second)
	if msg == nil || msg.Src != src.Name() {
		t.Fatalf("expected error from %s, got %+v", src.Name(), msg)
	}
	time.Sleep(20 * time.Millisecond)
	if p.State() >= media.StatePaused {
		t.Errorf("expected preroll to fail, state %s", p.State())
	}
}

func TestLevel_ScaledByVolume(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("level")
	src := mustMake(t, fw, p, "audiotestsrc")
	_ = src.SetProperty("volume", 1.0)
	vol := mustMake(t, fw, p, "volume")
	_ = vol.SetProperty("volume", 0.1)
	lvl := mustMake(t, fw, p, "level")
	_ = lvl.SetProperty("interval", uint64(10*time.Millisecond))
	sink := mustMake(t, fw, p, "fakesink")
	for _, pair := range [][2]media.Element{{src, vol}, {vol, lvl}, {lvl, sink}} {
		if err := pair[0].Link(pair[1]); err != nil {
			t.Fatal(err)
		}
	}

	_ = p.SetState(media.StatePlaying)
	defer func() { _ = p.SetState(media.StateNull) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m := p.Bus().Pop(10 * time.Millisecond)
		if m == nil || m.Structure == nil || m.Structure.Name != "level" {
			continue
		}
		peak, ok := m.Structure.Floats("peak")
		if !ok || len(peak) != 2 {
			t.Fatalf("bad peak field: %v", m.Structure.Fields)
		}
		if peak[0] > -19.9 || peak[0] < -20.1 {
			t.Errorf("peak: got %.2f dB, want -20", peak[0])
		}
		return
	}
	t.Fatal("no level message")
}

func TestAppSink_Samples(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("capture")
	src := mustMake(t, fw, p, "videotestsrc")
	cf := mustMake(t, fw, p, "capsfilter")
	_ = cf.SetProperty("caps", "video/x-raw, format=RGB, width=8, height=4")
	sinkEl := mustMake(t, fw, p, "appsink")
	_ = sinkEl.SetProperty("drop", true)
	_ = sinkEl.SetProperty("max-buffers", 1)
	_ = src.Link(cf)
	_ = cf.Link(sinkEl)

	sink, ok := sinkEl.(media.AppSink)
	if !ok {
		t.Fatal("appsink does not implement media.AppSink")
	}
	if s := sink.TryPull(10 * time.Millisecond); s != nil {
		t.Fatal("expected no sample before PLAYING")
	}

	_ = p.SetState(media.StatePlaying)
	defer func() { _ = p.SetState(media.StateNull) }()

	s := sink.TryPull(time.Second)
	if s == nil {
		t.Fatal("no sample")
	}
	if len(s.Data) != 8*4*3 {
		t.Errorf("sample size: got %d, want %d", len(s.Data), 8*4*3)
	}
	if w, _ := s.Caps.Int("width"); w != 8 {
		t.Errorf("caps width: got %d", w)
	}
}

func TestSyncHandler_RunsOnStreamingThreads(t *testing.T) {
	fw := newFramework()
	p, _ := fw.NewPipeline("sync")
	src := mustMake(t, fw, p, "audiotestsrc")
	sink := mustMake(t, fw, p, "fakesink")
	_ = src.Link(sink)

	var mu sync.Mutex
	var statuses int
	p.Bus().SetSyncHandler(func(m *media.Message) {
		if m.Type == media.MessageStreamStatus {
			mu.Lock()
			statuses++
			mu.Unlock()
		}
	})

	_ = p.SetState(media.StatePlaying)
	waitState(t, p, media.StatePlaying)
	time.Sleep(30 * time.Millisecond)
	p.Bus().SetSyncHandler(nil)
	_ = p.SetState(media.StateNull)

	mu.Lock()
	defer mu.Unlock()
	if statuses == 0 {
		t.Error("sync handler saw no stream-status message")
	}
}

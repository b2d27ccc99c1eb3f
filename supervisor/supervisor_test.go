package supervisor

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/errors"
)

func expectCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	if !errors.HasCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func newTestPipeline(t *testing.T, rt *Runtime, opts ...PipelineOption) *Pipeline {
	t.Helper()
	p, err := rt.NewPipeline(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func mustAdd(t *testing.T, p *Pipeline, typ string, opts ...ElementOption) *ElementProxy {
	t.Helper()
	e, err := p.AddElement(context.Background(), typ, opts...)
	if err != nil {
		t.Fatalf("AddElement %s: %v", typ, err)
	}
	return e
}

func TestPipeline_PropertyRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newTestRuntime(t, testConfig(t, "serve")))
	src := mustAdd(t, p, "audiotestsrc", Prop("freq", 220))
	vol := mustAdd(t, p, "volume")
	mustAdd(t, p, "fakesink")

	if got, err := src.GetProperty(ctx, "freq"); err != nil || got != 220.0 {
		t.Fatalf("freq = %v, %v", got, err)
	}

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"volume", 0.25, 0.25},
		{"mute", true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := vol.SetProperty(ctx, tc.name, tc.value); err != nil {
				t.Fatalf("SetProperty: %v", err)
			}
			got, err := vol.GetProperty(ctx, tc.name)
			if err != nil {
				t.Fatalf("GetProperty: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPipeline_RemoteErrorKeepsWorker(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newTestRuntime(t, testConfig(t, "serve")))

	_, err := p.AddElement(ctx, "no-such-element")
	expectCode(t, err, errors.ErrCodeNoSuchElementType)
	if p.Ended() {
		t.Fatal("a remote error must not end the pipeline")
	}

	var pong string
	if err := p.Invoke(ctx, bridge.MethodPing, nil, &pong); err != nil || pong != "pong" {
		t.Fatalf("ping after remote error: %q, %v", pong, err)
	}
}

func TestPipeline_InvokeRemoteErrorTearsDown(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newTestRuntime(t, testConfig(t, "serve")))
	q := mustAdd(t, p, "queue", Named("buffer"))

	observed := make(chan error, 1)
	p.sup.OnFailure(func(ctx context.Context) {
		var level any
		observed <- p.sup.peek(ctx, bridge.MethodGetProperty,
			engine.PropertyRequest{Element: q.Handle(), Property: "current-level-time"}, &level)
	})

	err := p.Invoke(ctx, bridge.MethodGetProperty, engine.PropertyRequest{Element: 9999, Property: "volume"}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown handle")
	}
	if !p.Ended() {
		t.Fatal("expected Invoke failure to end the pipeline")
	}
	select {
	case err := <-observed:
		if err != nil {
			t.Errorf("observer could not reach the worker before teardown: %v", err)
		}
	default:
		t.Error("failure observer did not run")
	}

	select {
	case <-p.sup.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("worker still running after teardown")
	}
	_, err = p.Position(ctx)
	expectCode(t, err, errors.ErrCodeProcessDead)
}

func TestPipeline_StopIdempotent(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, testConfig(t, "serve"))
	p := newTestPipeline(t, rt)
	vol := mustAdd(t, p, "volume")

	if rt.Len() != 1 {
		t.Fatalf("expected one live pipeline, got %d", rt.Len())
	}
	p.Stop(ctx)
	p.Stop(ctx)

	if !p.Ended() {
		t.Error("expected ended after stop")
	}
	if rt.Len() != 0 {
		t.Errorf("expected registry empty after stop, got %d", rt.Len())
	}
	if _, ok := rt.Lookup(p.ID()); ok {
		t.Error("stopped pipeline still found by id")
	}

	_, err := vol.GetProperty(ctx, "volume")
	expectCode(t, err, errors.ErrCodeProcessDead)
	if err := vol.SetProperty(ctx, "volume", 0.5); err != nil {
		t.Errorf("SetProperty on a stopped pipeline should be a no-op, got %v", err)
	}
	_, err = p.AddElement(ctx, "volume")
	expectCode(t, err, errors.ErrCodeProcessDead)
}

func TestPipeline_TestsrcPositionAdvances(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, testConfig(t, "serve"))
	p := newTestPipeline(t, rt, WithName("snow"))
	mustAdd(t, p, "videotestsrc", Prop("pattern", 1))
	mustAdd(t, p, "fakesink")

	if err := p.Start(ctx, engine.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := p.Position(ctx)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if first < 0 {
		t.Fatalf("negative position %v", first)
	}
	last := first
	for range 10 {
		time.Sleep(200 * time.Millisecond)
		pos, err := p.Position(ctx)
		if err != nil {
			t.Fatalf("Position: %v", err)
		}
		if pos < last {
			t.Fatalf("position went backwards: %v after %v", pos, last)
		}
		last = pos
	}
	if last <= first {
		t.Errorf("position did not advance: %v -> %v", first, last)
	}
	if active, err := p.IsActive(ctx); err != nil || !active {
		t.Errorf("IsActive = %v, %v", active, err)
	}

	p.Stop(ctx)
	if _, ok := rt.Lookup(p.ID()); ok {
		t.Error("pipeline still registered after stop")
	}
}

func TestPipeline_SeekWhilePausedNonFlush(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newTestRuntime(t, testConfig(t, "serve")))
	mustAdd(t, p, "audiotestsrc")
	mustAdd(t, p, "fakesink")
	if err := p.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	noFlush := false
	pos := 1.0
	err := p.Seek(ctx, engine.SeekOptions{Position: &pos, Flush: &noFlush})
	expectCode(t, err, errors.ErrCodeSeekDeadlockRisk)
	if p.Ended() {
		t.Error("a refused seek must not end the pipeline")
	}
}

func TestPipeline_HungWorkerIsTornDown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "hang")
	cfg.CallTimeout = 300 * time.Millisecond
	p := newTestPipeline(t, newTestRuntime(t, cfg))

	_, err := p.IsActive(ctx)
	expectCode(t, err, errors.ErrCodeCallTimeout)
	if !p.Ended() {
		t.Fatal("expected ended after a timeout")
	}
	select {
	case <-p.sup.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("hung worker was not terminated")
	}

	_, err = p.IsActive(ctx)
	expectCode(t, err, errors.ErrCodeProcessDead)
}

func TestPipeline_KilledWorker(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newTestRuntime(t, testConfig(t, "serve")))
	if err := syscall.Kill(p.Pid(), syscall.SIGKILL); err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.sup.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	_, err := p.Position(ctx)
	expectCode(t, err, errors.ErrCodeProcessDead)
	if !p.Ended() {
		t.Error("expected ended")
	}
}

type recordingHandler struct {
	NopHandler
	mu       sync.Mutex
	levels   []engine.LevelEvent
	finished chan struct{}
	once     sync.Once
}

func (h *recordingHandler) OnLevel(_ *Pipeline, ev engine.LevelEvent) {
	h.mu.Lock()
	h.levels = append(h.levels, ev)
	h.mu.Unlock()
}

func (h *recordingHandler) OnStreamFinished(*Pipeline) {
	h.once.Do(func() { close(h.finished) })
}

func TestPipeline_EventsReachHandler(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, testConfig(t, "serve"))

	seen := make(chan bridge.Method, 256)
	unsubscribe := rt.Subscribe(func(ev Event) {
		select {
		case seen <- ev.Method:
		default:
		}
	})
	defer unsubscribe()

	h := &recordingHandler{finished: make(chan struct{})}
	p := newTestPipeline(t, rt, WithHandler(h))
	mustAdd(t, p, "audiotestsrc", Prop("num-buffers", 40))
	mustAdd(t, p, "level", Named("meter"))
	mustAdd(t, p, "fakesink")
	if err := p.Start(ctx, engine.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-h.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("no stream finished event")
	}
	h.mu.Lock()
	levels := append([]engine.LevelEvent(nil), h.levels...)
	h.mu.Unlock()
	if len(levels) == 0 {
		t.Fatal("no level events")
	}
	if levels[0].Source != "meter" {
		t.Errorf("expected source meter, got %q", levels[0].Source)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case m := <-seen:
			if m == bridge.EventStreamFinished {
				return
			}
		case <-deadline:
			t.Fatal("subscriber did not see on_stream_finished")
		}
	}
}

func TestPipeline_CaptureProxy(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newTestRuntime(t, testConfig(t, "serve")))
	mustAdd(t, p, "videotestsrc")
	sink, err := p.AddCapture(ctx, engine.CaptureOptions{Width: 8, Height: 4})
	if err != nil {
		t.Fatalf("AddCapture: %v", err)
	}
	if err := p.Start(ctx, engine.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var frame *engine.Frame
	for range 20 {
		if frame, err = sink.PullBuffer(ctx, 200*time.Millisecond); err != nil {
			t.Fatalf("PullBuffer: %v", err)
		}
		if frame != nil {
			break
		}
	}
	if frame == nil {
		t.Fatal("no frame pulled")
	}
	if frame.Width != 8 || frame.Height != 4 || len(frame.Data) != 8*4*3 {
		t.Errorf("unexpected frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Data))
	}

	path := filepath.Join(t.TempDir(), "frame.png")
	ok, err := sink.PullToFile(ctx, path, 500*time.Millisecond)
	if err != nil || !ok {
		t.Errorf("PullToFile = %v, %v", ok, err)
	}
	runtime.KeepAlive(p)
}

// dropPipeline creates a pipeline and returns only a proxy to one of its
// elements and the worker pid.
func dropPipeline(t *testing.T, rt *Runtime) (*ElementProxy, int) {
	t.Helper()
	p := newTestPipeline(t, rt)
	return mustAdd(t, p, "volume"), p.Pid()
}

func TestRuntime_DroppedPipelineIsCollected(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, "serve"))
	proxy, pid := dropPipeline(t, rt)

	deadline := time.Now().Add(15 * time.Second)
	for rt.Len() != 0 || syscall.Kill(pid, 0) == nil {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline not collected: %d live, worker %d alive=%v", rt.Len(), pid, syscall.Kill(pid, 0) == nil)
		}
		runtime.GC()
		time.Sleep(50 * time.Millisecond)
	}

	_, err := proxy.GetProperty(context.Background(), "volume")
	expectCode(t, err, errors.ErrCodePipelineGone)
	if err := proxy.SetProperty(context.Background(), "volume", 0.1); !errors.HasCode(err, errors.ErrCodePipelineGone) {
		t.Errorf("expected PIPELINE_GONE from SetProperty, got %v", err)
	}
}

func TestElementProxy_CallsUnderCollection(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, "serve"))
	proxy, _ := dropPipeline(t, rt)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
				runtime.GC()
				time.Sleep(time.Millisecond)
			}
		}
	})
	defer func() {
		close(stop)
		wg.Wait()
	}()

	ctx := context.Background()
	deadline := time.Now().Add(15 * time.Second)
	for {
		_, err := proxy.GetProperty(ctx, "volume")
		if err == nil {
			if time.Now().After(deadline) {
				t.Fatal("pipeline never collected")
			}
			continue
		}
		// A collected pipeline reports PIPELINE_GONE, never a worker that
		// died under an in-flight call.
		expectCode(t, err, errors.ErrCodePipelineGone)
		break
	}
	for rt.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d pipelines still registered", rt.Len())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRuntime_ManySequentialPipelines(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns 100 workers")
	}
	ctx := context.Background()
	rt := newTestRuntime(t, testConfig(t, "serve"))

	for i := range 100 {
		p := newTestPipeline(t, rt)
		mustAdd(t, p, "audiotestsrc")
		vol := mustAdd(t, p, "volume")
		mustAdd(t, p, "fakesink")
		if err := p.Start(ctx, engine.StartOptions{}); err != nil {
			t.Fatalf("pipeline %d: Start: %v", i, err)
		}
		pos := rand.Float64() * 5
		if err := p.Seek(ctx, engine.SeekOptions{Position: &pos}); err != nil {
			t.Fatalf("pipeline %d: Seek: %v", i, err)
		}
		if err := vol.SetProperty(ctx, "volume", rand.Float64()); err != nil {
			t.Fatalf("pipeline %d: SetProperty: %v", i, err)
		}
		p.Stop(ctx)
	}

	deadline := time.Now().Add(15 * time.Second)
	for rt.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d pipelines still registered", rt.Len())
		}
		runtime.GC()
		time.Sleep(50 * time.Millisecond)
	}
}

func TestDoesElementExist(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, testConfig(t, "serve"))

	tests := []struct {
		typ  string
		want bool
	}{
		{"fakesink", true},
		{"videotestsrc", true},
		{"no-such-element", false},
	}
	for _, tc := range tests {
		t.Run(tc.typ, func(t *testing.T) {
			got, err := rt.DoesElementExist(ctx, tc.typ)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNew_SpawnFailure(t *testing.T) {
	cfg := testConfig(t, "serve")
	cfg.WorkerBinary = "/nonexistent/iceflow-worker"
	cfg.SpawnAttempts = 3
	cfg.SpawnBackoff = time.Millisecond

	_, err := New(context.Background(), cfg, "x", nil)
	expectCode(t, err, errors.ErrCodeSpawnFailure)
}

func TestConfig_WorkerEnvForcesQuietFramework(t *testing.T) {
	cfg := Config{Env: []string{"EXTRA=1"}}
	cfg.Worker.MediaDebug = 5
	env := cfg.workerEnv("lobby")

	last := map[string]string{}
	for _, kv := range env {
		for i := range len(kv) {
			if kv[i] == '=' {
				last[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	if last["ICEFLOW_MEDIA_DEBUG"] != "1" || last["GST_DEBUG"] != "*:1" {
		t.Errorf("framework verbosity not forced: %v", env)
	}
	if last["ICEFLOW_PIPELINE_NAME"] != "lobby" || last["EXTRA"] != "1" {
		t.Errorf("missing entries: %v", env)
	}
}

package supervisor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/observability"
	"github.com/kbukum/iceflow/process"
	"github.com/kbukum/iceflow/resilience"
)

// Option configures a Supervisor or a Runtime.
type Option func(*deps)

type deps struct {
	log     *logger.Logger
	metrics *observability.BridgeMetrics
}

// WithLogger sets the logger. Default is the "supervisor" component logger.
func WithLogger(l *logger.Logger) Option {
	return func(d *deps) { d.log = l }
}

// WithMetrics records bridge calls, events, spawns and teardowns.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(d *deps) { d.metrics = m }
}

func newDeps(opts []Option) deps {
	var d deps
	for _, opt := range opts {
		opt(&d)
	}
	if d.log == nil {
		d.log = logger.Get("supervisor")
	}
	return d
}

// FailureObserver runs once when the worker is torn down after a failure,
// while the bridge may still answer. ctx bounds the observer.
type FailureObserver func(ctx context.Context)

// Supervisor owns one worker process and the bridge to it. Once a call
// fails at the transport level the worker is killed and the Supervisor
// stays ended: every later call fails with PROCESS_DEAD.
type Supervisor struct {
	cfg     Config
	log     *logger.Logger
	metrics *observability.BridgeMetrics

	proc   *process.Handle
	stderr *logger.LineWriter
	conn   atomic.Pointer[bridge.Conn]

	ended     atomic.Bool
	mu        sync.Mutex
	observers []FailureObserver

	teardownOnce sync.Once
	stopOnce     sync.Once
}

// New spawns a worker and connects to it. Events from the worker are
// passed to events, in order, on a single goroutine. name is the
// pipeline name given to the worker.
func New(ctx context.Context, cfg Config, name string, events bridge.EventFunc, opts ...Option) (*Supervisor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := newDeps(opts)
	s := &Supervisor{cfg: cfg, log: d.log, metrics: d.metrics}

	s.stderr = logger.NewLineWriter(logger.Get("worker").WithFields(map[string]interface{}{"pipeline": name}))
	cmd := process.Command{
		Binary:      cfg.WorkerBinary,
		Args:        cfg.WorkerArgs,
		Env:         cfg.workerEnv(name),
		Stderr:      s.stderr,
		GracePeriod: cfg.GracePeriod,
	}

	proc, err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxAttempts: cfg.SpawnAttempts,
		Backoff:     resilience.LinearBackoff(cfg.SpawnBackoff),
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.log.Warn("worker spawn failed, retrying", logger.Fields(
				logger.FieldAttempt, attempt, logger.FieldError, err.Error(), "backoff_ms", backoff.Milliseconds(),
			))
		},
	}, func() (*process.Handle, error) {
		h, err := process.Start(cmd)
		s.metrics.RecordSpawn(ctx, err == nil)
		return h, err
	})
	if err != nil {
		return nil, errors.SpawnFailure(cfg.WorkerBinary, cfg.SpawnAttempts, err)
	}
	s.proc = proc
	s.log = s.log.WithFields(map[string]interface{}{logger.FieldPID: proc.Pid()})

	conn := bridge.NewConn(proc.Stdout(), proc.Stdin(), bridge.Options{
		Events:  s.eventFunc(events),
		Metrics: s.metrics,
		Attrs:   []attribute.KeyValue{attribute.Int("worker.pid", proc.Pid())},
	})
	s.conn.Store(conn)
	s.log.Debug("worker started", logger.Fields("binary", cfg.WorkerBinary))

	// The worker has no ready signal.
	if cfg.SettleDelay > 0 {
		select {
		case <-time.After(cfg.SettleDelay):
		case <-ctx.Done():
			s.Stop(context.Background())
			return nil, ctx.Err()
		}
	}
	return s, nil
}

func (s *Supervisor) eventFunc(events bridge.EventFunc) bridge.EventFunc {
	return func(method bridge.Method, params json.RawMessage) {
		s.metrics.RecordEvent(context.Background(), string(method))
		if events != nil {
			events(method, params)
		}
	}
}

// Pid returns the worker's process id.
func (s *Supervisor) Pid() int { return s.proc.Pid() }

// Ended reports whether the worker was stopped or torn down.
func (s *Supervisor) Ended() bool {
	return s.ended.Load() || s.proc.Exited()
}

// Exited is closed once the worker process has been reaped.
func (s *Supervisor) Exited() <-chan struct{} { return s.proc.Done() }

// OnFailure registers fn to run when the worker is torn down after a
// failed call.
func (s *Supervisor) OnFailure(fn FailureObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Call sends method and decodes the reply into result. timeout bounds the
// wait. Errors returned by the worker's handler come back as
// *bridge.RemoteError and leave the worker running; any other failure
// kills the worker first.
func (s *Supervisor) Call(ctx context.Context, method bridge.Method, params, result any, timeout time.Duration) error {
	return s.call(ctx, method, params, result, timeout, false)
}

// Invoke is Call with the default timeout for commands that have no typed
// wrapper. Every error, remote ones included, kills the worker.
func (s *Supervisor) Invoke(ctx context.Context, method bridge.Method, params, result any) error {
	return s.call(ctx, method, params, result, s.cfg.CallTimeout, true)
}

func (s *Supervisor) call(ctx context.Context, method bridge.Method, params, result any, timeout time.Duration, strict bool) error {
	conn := s.conn.Load()
	if s.ended.Load() || conn == nil {
		return errors.ProcessDead("")
	}
	if s.proc.Exited() {
		s.fail("exited", errors.ProcessDead("worker exited"))
		return errors.ProcessDead("worker exited")
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := conn.Call(cctx, method, params, result)
	if err == nil {
		return nil
	}

	var remote *bridge.RemoteError
	switch {
	case stderrors.As(err, &remote) && !strict:
		return err
	case stderrors.Is(err, context.Canceled) && ctx.Err() != nil:
		// The caller gave up. The reply is dropped when it arrives.
		return err
	}
	s.fail(observability.Outcome(err), err)
	return err
}

// fail latches ended, runs the failure observers and kills the worker.
func (s *Supervisor) fail(reason string, cause error) {
	if s.ended.Swap(true) {
		return
	}
	s.log.Error("worker call failed, tearing down", logger.Fields(
		"reason", reason, logger.FieldError, cause.Error(),
	))
	s.metrics.RecordTeardown(context.Background(), reason)

	s.mu.Lock()
	observers := s.observers
	s.mu.Unlock()
	for _, fn := range observers {
		s.observe(fn)
	}
	s.teardown()
}

func (s *Supervisor) observe(fn FailureObserver) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("failure observer panicked", logger.Fields("panic", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ObserverTimeout)
	defer cancel()
	fn(ctx)
}

// peek calls the worker without the ended check or the failure path.
// Failure observers use it while the Supervisor is already ended.
func (s *Supervisor) peek(ctx context.Context, method bridge.Method, params, result any) error {
	conn := s.conn.Load()
	if conn == nil || s.proc.Exited() {
		return errors.ProcessDead("")
	}
	return conn.Call(ctx, method, params, result)
}

// teardown terminates the worker and closes its descriptors.
func (s *Supervisor) teardown() {
	s.teardownOnce.Do(func() {
		graceful := s.proc.Terminate()
		if conn := s.conn.Load(); conn != nil {
			_ = conn.Close()
		}
		_ = s.proc.Close()
		_ = s.stderr.Close()
		s.log.Debug("worker terminated", logger.Fields("graceful", graceful, "exit_code", s.proc.ExitCode()))
	})
}

// Stop asks the worker to stop its pipeline, then terminates it whether
// or not that succeeded. Stop is idempotent and safe after a failure.
func (s *Supervisor) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if !s.ended.Swap(true) && !s.proc.Exited() {
			if conn := s.conn.Load(); conn != nil {
				cctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
				if err := conn.Call(cctx, bridge.MethodStop, nil, nil); err != nil {
					s.log.Warn("graceful stop failed", logger.ErrorFields("stop", err))
				}
				cancel()
			}
		}
		s.teardown()
		s.conn.Store(nil)
	})
}

package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/observability"
)

// ErrClosed is the cause reported after Close.
var ErrClosed = stderrors.New("bridge: connection closed")

// Handler serves inbound requests. It is called on its own goroutine per
// request; returned values are encoded as the response result.
type Handler interface {
	ServeBridge(ctx context.Context, method Method, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method Method, params json.RawMessage) (any, error)

func (f HandlerFunc) ServeBridge(ctx context.Context, method Method, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// EventFunc receives inbound events, in arrival order, on a single goroutine.
// A slow EventFunc fills the event buffer. Level and presence readings are
// then dropped; other events hold up the reader, and with it responses to
// pending calls.
type EventFunc func(method Method, params json.RawMessage)

// Options configures a Conn.
type Options struct {
	// Handler serves inbound requests. Requests are rejected when nil.
	Handler Handler
	// Events receives inbound events. Events are dropped when nil.
	Events EventFunc
	// Metrics records call outcomes. Optional.
	Metrics *observability.BridgeMetrics
	// Logger defaults to the "bridge" component logger.
	Logger *logger.Logger
	// EventBuffer is the number of events queued ahead of Events.
	EventBuffer int
	// Attrs are added to every call span.
	Attrs []attribute.KeyValue
}

// Conn is one end of the bridge. It is safe for concurrent use.
type Conn struct {
	enc     *Encoder
	dec     *Decoder
	closers []io.Closer
	opts    Options
	log     *logger.Logger

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan *Message

	events  chan *Message
	dropped atomic.Uint64
	shed    rate.Sometimes

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// NewConn starts a Conn reading frames from r and writing frames to w.
// Close closes r and w when they implement io.Closer.
func NewConn(r io.Reader, w io.Writer, opts Options) *Conn {
	if opts.Logger == nil {
		opts.Logger = logger.Get("bridge")
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		enc:     NewEncoder(w),
		dec:     NewDecoder(r),
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[uint64]chan *Message),
		events:  make(chan *Message, opts.EventBuffer),
		shed:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, s := range []any{r, w} {
		if cl, ok := s.(io.Closer); ok {
			c.closers = append(c.closers, cl)
		}
	}

	go c.readLoop()
	go c.eventLoop()
	return c
}

// Call sends a request and waits for its response. params and result are
// JSON-encoded; result may be nil. The context bounds the wait:
// expiry yields CALL_TIMEOUT and connection loss yields PROCESS_DEAD.
// An error returned by the peer's handler is a *RemoteError.
func (c *Conn) Call(ctx context.Context, method Method, params, result any) error {
	if !method.IsCommand() {
		return errors.InvalidInput("method", fmt.Sprintf("unknown method %q", method))
	}
	select {
	case <-c.done:
		return c.deadError()
	default:
	}

	ctx, finish := observability.ObserveCall(ctx, c.opts.Metrics, string(method), c.opts.Attrs...)
	err := c.call(ctx, method, params, result)
	finish(err)
	return err
}

func (c *Conn) call(ctx context.Context, method Method, params, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return errors.InvalidInput("params", err.Error())
	}

	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return c.deadError()
	}
	c.pending[id] = ch
	c.mu.Unlock()

	started := time.Now()
	if err := c.enc.Encode(&Message{Kind: KindRequest, ID: id, Method: method, Params: raw}); err != nil {
		c.forget(id)
		c.shutdown(err)
		return c.deadError()
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return c.deadError()
		}
		if msg.Error != nil {
			return &RemoteError{Method: method, Err: errors.FromBody(*msg.Error)}
		}
		if err := unmarshalResult(msg.Result, result); err != nil {
			return errors.Internal(fmt.Errorf("decode %s result: %w", method, err))
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.CallTimeout(string(method), time.Since(started).Round(time.Millisecond)).WithCause(ctx.Err())
		}
		return ctx.Err()
	}
}

// Notify sends an event. It does not wait for delivery.
func (c *Conn) Notify(method Method, params any) error {
	if !method.IsEvent() {
		return errors.InvalidInput("method", fmt.Sprintf("unknown event %q", method))
	}
	raw, err := marshalParams(params)
	if err != nil {
		return errors.InvalidInput("params", err.Error())
	}
	if err := c.enc.Encode(&Message{Kind: KindEvent, Method: method, Params: raw}); err != nil {
		c.shutdown(err)
		return c.deadError()
	}
	return nil
}

// Done is closed when the connection is closed or the stream fails.
func (c *Conn) Done() <-chan struct{} { return c.done }

// DroppedEvents returns how many readings were shed on a full event buffer.
func (c *Conn) DroppedEvents() uint64 { return c.dropped.Load() }

// Err returns the reason the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection and the underlying streams. Pending calls
// fail with PROCESS_DEAD.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Conn) deadError() error {
	cause := c.Err()
	if cause == nil || stderrors.Is(cause, ErrClosed) {
		return errors.ProcessDead("")
	}
	return errors.ProcessDead("worker connection lost").WithCause(cause)
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.err = cause
		c.cancel()
		for _, cl := range c.closers {
			_ = cl.Close()
		}

		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	for {
		var msg Message
		err := c.dec.Decode(&msg)
		if stderrors.Is(err, ErrMalformedFrame) {
			c.log.Warn("dropping malformed frame", logger.Fields(logger.FieldError, err.Error()))
			continue
		}
		if err != nil {
			c.shutdown(err)
			return
		}

		switch msg.Kind {
		case KindResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- &msg
			} else {
				c.log.Debug("response for unknown call", logger.Fields(logger.FieldCallID, msg.ID))
			}
		case KindRequest:
			go c.serve(&msg)
		case KindEvent:
			if msg.Method.Sheddable() {
				select {
				case c.events <- &msg:
				default:
					n := c.dropped.Add(1)
					c.shed.Do(func() {
						c.log.Warn("event buffer full, dropping readings", logger.Fields(
							logger.FieldMethod, string(msg.Method), "dropped", n,
						))
					})
				}
				continue
			}
			select {
			case c.events <- &msg:
			case <-c.done:
				return
			}
		default:
			c.log.Warn("dropping frame of unknown kind", logger.Fields("kind", string(msg.Kind)))
		}
	}
}

func (c *Conn) eventLoop() {
	for {
		select {
		case msg := <-c.events:
			c.deliver(msg)
		case <-c.done:
			// Drain what arrived before the stream ended.
			for {
				select {
				case msg := <-c.events:
					c.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) deliver(msg *Message) {
	if !msg.Method.IsEvent() {
		c.log.Debug("ignoring unknown event", logger.Fields(logger.FieldMethod, string(msg.Method)))
		return
	}
	c.opts.Metrics.RecordEvent(c.ctx, string(msg.Method))
	if c.opts.Events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked", logger.Fields(
				logger.FieldMethod, string(msg.Method),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			))
		}
	}()
	c.opts.Events(msg.Method, msg.Params)
}

func (c *Conn) serve(req *Message) {
	resp := &Message{Kind: KindResponse, ID: req.ID}

	result, err := c.handle(req)
	if err == nil {
		raw, merr := codec.Marshal(result)
		if merr != nil {
			err = errors.Internal(fmt.Errorf("encode %s result: %w", req.Method, merr))
		} else {
			resp.Result = raw
		}
	}
	if err != nil {
		body := errors.Wrap(err).Body()
		resp.Error = &body
	}

	if werr := c.enc.Encode(resp); werr != nil {
		c.log.Debug("response not delivered", logger.Fields(
			logger.FieldMethod, string(req.Method),
			logger.FieldError, werr.Error(),
		))
		c.shutdown(werr)
	}
}

func (c *Conn) handle(req *Message) (result any, err error) {
	if !req.Method.IsCommand() {
		return nil, errors.InvalidInput("method", fmt.Sprintf("unknown method %q", req.Method))
	}
	if c.opts.Handler == nil {
		return nil, errors.InvalidInput("method", "no handler for requests")
	}

	ctx, span := observability.StartSpan(c.ctx, SpanName(req.Method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String(observability.AttrMethod, string(req.Method))),
	)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("request handler panicked", logger.Fields(
				logger.FieldMethod, string(req.Method),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			))
			err = errors.Internal(fmt.Errorf("panic in %s: %v", req.Method, r))
		}
		if err != nil {
			observability.SetSpanError(ctx, err)
		}
		span.End()
	}()

	return c.opts.Handler.ServeBridge(ctx, req.Method, req.Params)
}

// SpanName is the server span name for method.
func SpanName(method Method) string {
	return observability.SpanBridgeHandle + "." + string(method)
}

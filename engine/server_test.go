package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/media/sim"
)

func newServer(t *testing.T, opts ...engine.ServerOption) (*engine.Server, *recorder) {
	t.Helper()
	rt := newRuntime(t, sim.Options{})
	srv, err := engine.NewServer(rt, engine.Config{}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Pipeline().Stop)
	rec := newRecorder()
	srv.Attach(rec)
	return srv, rec
}

func serve(t *testing.T, srv *engine.Server, method bridge.Method, params string) (any, error) {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return srv.ServeBridge(context.Background(), method, raw)
}

func TestServer_Dispatch(t *testing.T) {
	srv, _ := newServer(t)

	if got, err := serve(t, srv, bridge.MethodPing, ""); err != nil || got != "pong" {
		t.Fatalf("ping: %v, %v", got, err)
	}

	got, err := serve(t, srv, bridge.MethodAddElement, `{"type":"audiotestsrc","properties":{"num_buffers":50}}`)
	if err != nil {
		t.Fatalf("add_element: %v", err)
	}
	src := got.(engine.Handle)

	if _, err := serve(t, srv, bridge.MethodAddElement, `{"type":"volume","connect_to_output":[`+src.String()+`]}`); err != nil {
		t.Fatalf("add_element volume: %v", err)
	}
	if _, err := serve(t, srv, bridge.MethodAddElement, `{"type":"fakesink"}`); err != nil {
		t.Fatalf("add_element sink: %v", err)
	}

	if _, err := serve(t, srv, bridge.MethodSetProperty, `{"element":`+src.String()+`,"property":"freq","value":220}`); err != nil {
		t.Fatalf("set_property: %v", err)
	}
	got, err = serve(t, srv, bridge.MethodGetProperty, `{"element":`+src.String()+`,"property":"freq"}`)
	if err != nil || got != 220.0 {
		t.Fatalf("get_property: %v, %v", got, err)
	}

	if got, _ := serve(t, srv, bridge.MethodIsActive, ""); got != false {
		t.Errorf("expected inactive before start, got %v", got)
	}
	if _, err := serve(t, srv, bridge.MethodStart, `{}`); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got, _ := serve(t, srv, bridge.MethodIsActive, ""); got != true {
		t.Errorf("expected active after start, got %v", got)
	}
	pos, err := serve(t, srv, bridge.MethodPosition, "")
	if err != nil {
		t.Fatalf("get_position: %v", err)
	}
	if pos.(float64) < 0 {
		t.Errorf("negative position %v", pos)
	}

	if got, _ := serve(t, srv, bridge.MethodElementExists, `{"type":"level"}`); got != true {
		t.Errorf("expected level to exist")
	}
	if got, _ := serve(t, srv, bridge.MethodElementExists, `{"type":"nosuchthing"}`); got != false {
		t.Errorf("expected nosuchthing to be missing")
	}
}

func TestServer_Errors(t *testing.T) {
	srv, _ := newServer(t)

	_, err := serve(t, srv, bridge.MethodAddElement, `{"type":"nosuchthing"}`)
	if !errors.HasCode(err, errors.ErrCodeNoSuchElementType) {
		t.Errorf("expected NO_SUCH_ELEMENT_TYPE, got %v", err)
	}
	_, err = serve(t, srv, bridge.MethodAddElement, `{"type":`)
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for bad params, got %v", err)
	}
	_, err = serve(t, srv, bridge.EventLevel, "")
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for an event method, got %v", err)
	}
}

func TestServer_EventsReachPeer(t *testing.T) {
	srv, rec := newServer(t)
	for _, spec := range []string{
		`{"type":"audiotestsrc","properties":{"num-buffers":5}}`,
		`{"type":"fakesink"}`,
	} {
		if _, err := serve(t, srv, bridge.MethodAddElement, spec); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := serve(t, srv, bridge.MethodStart, ""); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, bridge.EventStreamFinished, 3*time.Second)
}

func TestServer_StopRunsHook(t *testing.T) {
	stopped := make(chan struct{})
	srv, _ := newServer(t, engine.OnStop(func() { close(stopped) }))
	if _, err := serve(t, srv, bridge.MethodStop, ""); err != nil {
		t.Fatal(err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop hook not called")
	}
	if srv.Pipeline().State() != engine.StateStopped {
		t.Errorf("expected stopped, got %s", srv.Pipeline().State())
	}
}

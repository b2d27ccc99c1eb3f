package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
)

// Server serves one Pipeline to the controller. It implements
// bridge.Handler for requests and Emitter for the pipeline's events.
type Server struct {
	rt     *Runtime
	p      *Pipeline
	log    *logger.Logger
	peer   atomic.Pointer[Emitter]
	onStop func()
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// OnStop registers fn to run after a stop request completed.
func OnStop(fn func()) ServerOption {
	return func(s *Server) { s.onStop = fn }
}

// NewServer creates the served pipeline. Events are dropped until Attach.
func NewServer(rt *Runtime, cfg Config, opts ...ServerOption) (*Server, error) {
	s := &Server{rt: rt, log: rt.log.WithComponent("server")}
	for _, opt := range opts {
		opt(s)
	}
	p, err := rt.NewPipeline(cfg, s)
	if err != nil {
		return nil, err
	}
	s.p = p
	return s, nil
}

// Attach sets the peer events are sent to, normally the *bridge.Conn
// serving s.
func (s *Server) Attach(peer Emitter) { s.peer.Store(&peer) }

// Pipeline returns the served pipeline.
func (s *Server) Pipeline() *Pipeline { return s.p }

// Notify implements Emitter.
func (s *Server) Notify(method bridge.Method, params any) error {
	peer := s.peer.Load()
	if peer == nil {
		return nil
	}
	return (*peer).Notify(method, params)
}

// ServeBridge implements bridge.Handler.
func (s *Server) ServeBridge(_ context.Context, method bridge.Method, params json.RawMessage) (any, error) {
	p := s.p
	switch method {
	case bridge.MethodPing:
		return "pong", nil

	case bridge.MethodAddElement:
		var req ElementSpec
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return p.AddElement(req)

	case bridge.MethodSetProperty:
		var req PropertyRequest
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, p.SetProperty(req.Element, req.Property, req.Value)

	case bridge.MethodGetProperty:
		var req PropertyRequest
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return p.GetProperty(req.Element, req.Property)

	case bridge.MethodStart:
		var req StartOptions
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, p.Start(req)

	case bridge.MethodPause:
		return nil, p.Pause()

	case bridge.MethodPlay:
		var req PlayOptions
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, p.Play(req)

	case bridge.MethodSeek:
		var req SeekOptions
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return nil, p.Seek(req)

	case bridge.MethodStop:
		p.Stop()
		if s.onStop != nil {
			s.onStop()
		}
		return nil, nil

	case bridge.MethodPosition:
		return p.Position()

	case bridge.MethodAddCapture:
		var req CaptureOptions
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return p.AddCapture(req)

	case bridge.MethodAddPresence:
		var req PresenceOptions
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return p.AddPresenceDetector(req)

	case bridge.MethodPullBuffer:
		var req PullRequest
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return p.PullBuffer(req.Element, seconds(req.Timeout))

	case bridge.MethodPullToFile:
		var req PullRequest
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return p.PullToFile(req.Element, req.Path, seconds(req.Timeout))

	case bridge.MethodSendEOS:
		p.SendEOS()
		return nil, nil

	case bridge.MethodRestart:
		var req PlayOptions
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		p.Restart(req)
		return nil, nil

	case bridge.MethodExitSegmentMode:
		return nil, p.ExitSegmentMode()

	case bridge.MethodIsActive:
		return p.IsActive(), nil

	case bridge.MethodElementExists:
		var req ExistsRequest
		if err := bridge.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.rt.ElementExists(req.Type), nil
	}
	return nil, errors.InvalidInput("method", fmt.Sprintf("unsupported method %q", method))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

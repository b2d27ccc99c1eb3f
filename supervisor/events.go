package supervisor

import (
	"encoding/json"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/engine"
	"github.com/kbukum/iceflow/logger"
)

// EventHandler receives worker events for one Pipeline. Calls arrive in
// order on a single goroutine per Pipeline. A handler that falls behind
// loses level and presence readings; once other events back up, calls to
// the worker wait behind them and may time out. Embed NopHandler to
// override only some.
type EventHandler interface {
	OnError(p *Pipeline, ev engine.ErrorEvent)
	OnStreamFinished(p *Pipeline)
	OnSegmentDone(p *Pipeline)
	OnLevel(p *Pipeline, ev engine.LevelEvent)
	OnMotionBegin(p *Pipeline)
	OnMotionEnd(p *Pipeline)
	OnVideoAnalyze(p *Pipeline, ev engine.VideoAnalyzeEvent)
	OnBarcode(p *Pipeline, ev engine.BarcodeEvent)
	OnMultiFileSink(p *Pipeline, ev engine.MultiFileSinkEvent)
	OnPresence(p *Pipeline, ev engine.PresenceEvent)
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) OnError(*Pipeline, engine.ErrorEvent)                 {}
func (NopHandler) OnStreamFinished(*Pipeline)                           {}
func (NopHandler) OnSegmentDone(*Pipeline)                              {}
func (NopHandler) OnLevel(*Pipeline, engine.LevelEvent)                 {}
func (NopHandler) OnMotionBegin(*Pipeline)                              {}
func (NopHandler) OnMotionEnd(*Pipeline)                                {}
func (NopHandler) OnVideoAnalyze(*Pipeline, engine.VideoAnalyzeEvent)   {}
func (NopHandler) OnBarcode(*Pipeline, engine.BarcodeEvent)             {}
func (NopHandler) OnMultiFileSink(*Pipeline, engine.MultiFileSinkEvent) {}
func (NopHandler) OnPresence(*Pipeline, engine.PresenceEvent)           {}

// dispatch decodes one event and calls the matching handler method.
// Handler panics are logged.
func dispatch(log *logger.Logger, p *Pipeline, h EventHandler, method bridge.Method, params json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("event handler panicked", logger.Fields(logger.FieldMethod, string(method), "panic", rec))
		}
	}()

	switch method {
	case bridge.EventError:
		var ev engine.ErrorEvent
		if decode(log, method, params, &ev) {
			h.OnError(p, ev)
		}
	case bridge.EventStreamFinished:
		h.OnStreamFinished(p)
	case bridge.EventSegmentDone:
		h.OnSegmentDone(p)
	case bridge.EventLevel:
		var ev engine.LevelEvent
		if decode(log, method, params, &ev) {
			h.OnLevel(p, ev)
		}
	case bridge.EventMotionBegin:
		h.OnMotionBegin(p)
	case bridge.EventMotionEnd:
		h.OnMotionEnd(p)
	case bridge.EventVideoAnalyze:
		var ev engine.VideoAnalyzeEvent
		if decode(log, method, params, &ev) {
			h.OnVideoAnalyze(p, ev)
		}
	case bridge.EventBarcode:
		var ev engine.BarcodeEvent
		if decode(log, method, params, &ev) {
			h.OnBarcode(p, ev)
		}
	case bridge.EventMultiFileSink:
		var ev engine.MultiFileSinkEvent
		if decode(log, method, params, &ev) {
			h.OnMultiFileSink(p, ev)
		}
	case bridge.EventPresence:
		var ev engine.PresenceEvent
		if decode(log, method, params, &ev) {
			h.OnPresence(p, ev)
		}
	default:
		log.Debug("ignoring unknown event", logger.Fields(logger.FieldMethod, string(method)))
	}
}

func decode(log *logger.Logger, method bridge.Method, params json.RawMessage, v any) bool {
	if err := bridge.DecodeParams(params, v); err != nil {
		log.Warn("dropping malformed event", logger.Fields(logger.FieldMethod, string(method), logger.FieldError, err.Error()))
		return false
	}
	return true
}

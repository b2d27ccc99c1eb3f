package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

func (p *Pipeline) startPumpLocked() {
	if p.pumpDone != nil {
		select {
		case <-p.pumpDone:
		default:
			return
		}
	}
	done := make(chan struct{})
	p.pumpDone = done
	go p.pump(done)
}

// pump translates bus messages into events until the pipeline stops or
// the graph is driven to NULL from outside.
func (p *Pipeline) pump(done chan<- struct{}) {
	defer close(done)
	p.log.Debug("bus pump started")
	defer p.log.Debug("bus pump exited")

	var last uint32
	for {
		if !p.shouldRun.Load() {
			p.exiting.Store(true)
			p.driveToNull()
			return
		}
		if !p.tick() {
			return
		}

		msg := p.bus.Pop(pumpPollTimeout)
		if msg == nil {
			p.breakSeekJam()
			continue
		}
		p.dispatch(msg, last)
		last = msg.Seqnum
	}
}

// tick runs the periodic work at most once per loopInterval. It reports
// false when the pump should exit.
func (p *Pipeline) tick() (ok bool) {
	ok = true
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("bus pump failed", logger.Fields("panic", fmt.Sprint(rec), "stack", string(debug.Stack())))
			p.emit(bridge.EventError, ErrorEvent{Source: p.name, Message: fmt.Sprint(rec)})
			p.shouldRun.Store(false)
			p.exiting.Store(true)
			p.driveToNull()
			ok = false
		}
	}()

	p.loopEvery.Do(func() {
		if p.restarting.Load() {
			return
		}
		// Only a bounded wait for the general lock: a command may hold
		// it while waiting for events this goroutine delivers.
		if lockWithin(&p.mu, loopLockWait) {
			p.loopCallbackLocked()
			p.mu.Unlock()
		}

		s := p.pipe.State()
		if s != media.StateNull {
			p.wasEverRunning.Store(true)
		}
		if p.wasEverRunning.Load() && s == media.StateNull {
			p.shouldRun.Store(false)
			ok = false
		}
	})
	return ok
}

func (p *Pipeline) loopCallbackLocked() {
	if p.presence == nil {
		return
	}
	ev, ok := p.presence.poll()
	if ok {
		p.emit(bridge.EventPresence, ev)
	}
}

func (p *Pipeline) driveToNull() {
	if err := p.setState(media.StateNull); err != nil {
		p.log.Warn("bus pump: set NULL failed", logger.ErrorFields("pump", err))
		return
	}
	if err := p.waitForState(media.StateNull, p.cfg.StateTimeout); err != nil {
		p.log.Warn("bus pump: graph did not reach NULL", logger.ErrorFields("pump", err))
	}
}

// breakSeekJam forces PLAYING when the bus is quiet and a seek has held
// the seek lock for too long, usually because the graph went to PAUSED
// under a non-flushing seek.
func (p *Pipeline) breakSeekJam() {
	since := p.seekSince.Load()
	if since == 0 || time.Since(time.Unix(0, since)) < seekJamAfter {
		return
	}
	p.log.Debug("seek jammed, forcing PLAYING")
	if err := p.pipe.SetState(media.StatePlaying); err != nil {
		p.log.Warn("jam breaker failed", logger.ErrorFields("pump", err))
	}
}

// dispatch turns one bus message into events. last is the seqnum of the
// previous message; repeated end-of-stream messages are dropped.
func (p *Pipeline) dispatch(msg *media.Message, last uint32) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("bus message handler panic", logger.Fields(
				"panic", fmt.Sprint(rec), "message", msg.Type.String(), "stack", string(debug.Stack()),
			))
		}
	}()

	switch msg.Type {
	case media.MessageError:
		text := "unknown error"
		if msg.Err != nil {
			text = msg.Err.Error()
		}
		p.log.Debug("bus error", logger.Fields("source", msg.Src, logger.FieldError, text, "debug", msg.Debug))
		p.emit(bridge.EventError, ErrorEvent{Source: msg.Src, Message: text, Debug: msg.Debug})
	case media.MessageEOS:
		if msg.Seqnum != last {
			p.emit(bridge.EventStreamFinished, nil)
		}
	case media.MessageSegmentDone:
		// A seek to a new segment also ends the old one; that is not a
		// completed segment.
		if msg.Seqnum != last && p.seekSince.Load() == 0 {
			p.emit(bridge.EventSegmentDone, nil)
		}
	}

	if msg.Structure != nil {
		p.onStructure(msg.Src, msg.Structure)
	}
}

func (p *Pipeline) onStructure(src string, s *media.Structure) {
	switch s.Name {
	case "level":
		rms, _ := s.Floats("rms")
		decay, _ := s.Floats("decay")
		if len(rms) == 0 || len(decay) == 0 {
			return
		}
		p.emit(bridge.EventLevel, LevelEvent{Source: src, RMS: mean(rms), Decay: mean(decay)})
	case "motion":
		if s.Has("motion_begin") {
			p.emit(bridge.EventMotionBegin, nil)
		}
		if s.Has("motion_finished") {
			p.emit(bridge.EventMotionEnd, nil)
		}
	case "GstVideoAnalyse":
		avg, _ := s.Float("luma-average")
		variance, _ := s.Float("luma-variance")
		p.emit(bridge.EventVideoAnalyze, VideoAnalyzeEvent{
			"luma-average":  avg,
			"luma-variance": variance,
			"luma_average":  avg,
			"luma_variance": variance,
		})
	case "barcode":
		q, _ := s.Int("quality")
		p.emit(bridge.EventBarcode, BarcodeEvent{Type: s.String("type"), Symbol: s.String("symbol"), Quality: int(q)})
	case "GstMultiFileSink":
		p.emit(bridge.EventMultiFileSink, MultiFileSinkEvent{Filename: s.String("filename")})
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

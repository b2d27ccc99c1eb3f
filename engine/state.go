package engine

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// lockWithin takes mu, giving up after d.
func lockWithin(mu *sync.Mutex, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// setState requests s under the seek lock. A seek that holds the lock
// past stateSeekWait does not block the change.
func (p *Pipeline) setState(s media.State) error {
	if lockWithin(&p.seekMu, stateSeekWait) {
		defer p.seekMu.Unlock()
	} else {
		p.log.Debug("seek lock busy, changing state anyway", logger.Fields(logger.FieldState, s.String()))
	}
	if s != media.StateNull {
		// The realtime grace runs from the first move out of NULL.
		p.startedAt.CompareAndSwap(0, time.Now().UnixNano())
	}
	if err := p.pipe.SetState(s); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// waitForState polls with a doubling interval capped at 100ms.
func (p *Pipeline) waitForState(want media.State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 10 * time.Millisecond
	for {
		have := p.pipe.State()
		if have == want {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.StateTimeout(want.String(), have.String())
		}
		time.Sleep(interval)
		interval = min(interval*2, 100*time.Millisecond)
	}
}

// Start brings the pipeline to PLAYING and starts the bus pump once the
// clock is readable.
func (p *Pipeline) Start(opts StartOptions) error {
	if p.exiting.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(opts)
}

func (p *Pipeline) startLocked(opts StartOptions) error {
	if p.exiting.Load() {
		return nil
	}
	if p.stopped {
		return errors.Conflict("pipeline is stopped")
	}

	now := time.Now()
	p.startTime = now
	if opts.EffectiveStartTime > 0 {
		at := time.Unix(0, int64(opts.EffectiveStartTime*float64(time.Second)))
		// Monotonic reference for a start that happened at wall time at.
		p.startTime = now.Add(-now.Sub(at))
	}
	p.startedAt.Store(now.UnixNano())

	timeout := p.cfg.StateTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout * float64(time.Second))
	}

	if p.cfg.SystemTime || opts.EffectiveStartTime > 0 || opts.Segment {
		if s := p.pipe.State(); s != media.StatePaused && s != media.StatePlaying {
			if err := p.setState(media.StatePaused); err != nil {
				return err
			}
			if err := p.waitForState(media.StatePaused, p.cfg.StateTimeout); err != nil {
				return err
			}
		}
	}

	// Line the stream up with where it would be had it started on time.
	switch {
	case p.cfg.SystemTime:
		pos := time.Since(p.startTime).Seconds()
		if err := p.seekLocked(SeekOptions{Position: &pos}, false); err != nil {
			return err
		}
	case opts.Segment:
		zero, flush := 0.0, true
		if err := p.seekLocked(SeekOptions{Position: &zero, Segment: true, Flush: &flush}, false); err != nil {
			return err
		}
	}

	if err := p.setState(media.StatePlaying); err != nil {
		return err
	}
	if err := p.waitForState(media.StatePlaying, timeout); err != nil {
		return err
	}
	p.running = true
	p.state = StatePlaying

	if err := p.waitForClock(); err != nil {
		return err
	}
	p.startPumpLocked()
	p.log.Info("pipeline started", logger.Fields("name", p.name, "segment", opts.Segment))
	return nil
}

func (p *Pipeline) waitForClock() error {
	deadline := time.Now().Add(p.cfg.ClockWait)
	for {
		_, err := p.pipe.Position()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.ClockNotValid("position still unavailable after " + p.cfg.ClockWait.String())
		}
		time.Sleep(clockPollEvery)
	}
}

// Pause brings the pipeline to PAUSED. A fresh pipeline may be paused to
// preroll before playing.
func (p *Pipeline) Pause() error {
	if p.exiting.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.Conflict("pipeline is stopped")
	}

	if err := p.setState(media.StatePaused); err != nil {
		return err
	}
	if err := p.waitForState(media.StatePaused, p.cfg.StateTimeout); err != nil {
		return err
	}
	if _, err := p.positionLocked(); err != nil {
		return err
	}
	p.running = true
	p.state = StatePaused
	p.startPumpLocked()
	return nil
}

// Play resumes a started or paused pipeline. With segment set the
// current position becomes a segment.
func (p *Pipeline) Play(opts PlayOptions) error {
	if p.exiting.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return errors.Conflict("pipeline is not paused or running, call start")
	}
	if p.pipe.State() == media.StateNull {
		return errors.Conflict("pipeline is not paused or running, call start")
	}
	if _, err := p.positionLocked(); err != nil {
		return err
	}

	if err := p.setState(media.StatePlaying); err != nil {
		return err
	}
	if err := p.waitForState(media.StatePlaying, p.cfg.StateTimeout); err != nil {
		return err
	}
	p.state = StatePlaying
	if opts.Segment {
		flush := false
		return p.seekLocked(SeekOptions{Segment: true, Flush: &flush}, true)
	}
	return nil
}

// Restart drives the graph to NULL and starts it again in the
// background. The pump keeps running across the restart.
func (p *Pipeline) Restart(opts PlayOptions) {
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.exiting.Load() || p.stopped {
			return
		}
		p.restarting.Store(true)
		defer p.restarting.Store(false)

		if p.pipe.State() != media.StateNull {
			if err := p.setState(media.StateNull); err != nil {
				p.log.Warn("restart failed", logger.ErrorFields("restart", err))
				return
			}
			if err := p.waitForState(media.StateNull, p.cfg.StateTimeout); err != nil {
				p.log.Warn("restart failed", logger.ErrorFields("restart", err))
				return
			}
		}
		if err := p.startLocked(StartOptions{Segment: opts.Segment}); err != nil {
			p.log.Warn("restart failed", logger.ErrorFields("restart", err))
			p.emit(bridge.EventError, ErrorEvent{Source: p.name, Message: err.Error()})
		}
	}()
}

// IsActive reports whether the pipeline is started and not stopping.
func (p *Pipeline) IsActive() bool {
	if p.exiting.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && !p.stopped
}

// Position returns the stream position in seconds.
func (p *Pipeline) Position() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Pipeline) positionLocked() (float64, error) {
	d, err := p.pipe.Position()
	if err != nil {
		if stderrors.Is(err, media.ErrClockNotValid) {
			return 0, errors.ClockNotValid(err.Error())
		}
		return 0, errors.ClockNotValid(err.Error()).WithCause(err)
	}
	if d < 0 {
		return 0, errors.ClockNotValid("negative position " + d.String())
	}
	return d.Seconds(), nil
}

// SendEOS injects end-of-stream into the graph.
func (p *Pipeline) SendEOS() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.pipe.SendEOS()
	}
}

// Stop drives the graph to NULL and releases every resource. It is safe
// to call more than once and from any goroutine.
func (p *Pipeline) Stop() {
	p.shouldRun.Store(false)
	if !p.exiting.Swap(true) && p.pipe.State() != media.StateNull {
		if err := p.setState(media.StateNull); err != nil {
			p.log.Warn("stop: set state failed", logger.ErrorFields("stop", err))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.state = StateStopping
	p.running = false
	if p.rtprio != nil {
		p.rtprio.uninstall()
	}

	// The pump exits on its own once it sees shouldRun cleared. Waiting is
	// best effort: it only ever touches the graph under locks we do not hold.
	if done := p.pumpDone; done != nil {
		select {
		case <-done:
		case <-time.After(pumpExitWait):
			p.log.Warn("bus pump did not exit in time")
		}
	}

	if err := p.waitForState(media.StateNull, stopNullWait); err != nil {
		if err := p.setState(media.StateNull); err != nil {
			p.log.Debug("stop: retrying NULL failed", logger.ErrorFields("stop", err))
		}
		if err := p.waitForState(media.StateNull, stopNullWait); err != nil {
			// Handles are released anyway. The graph has no owner left
			// and winds down on its own.
			p.log.Warn("stop: graph did not reach NULL", logger.ErrorFields("stop", err))
		}
	}

	p.dropPendingLinks()
	for h := range p.owned {
		p.releaseLocked(h)
	}
	p.elements = nil
	p.sidechain = nil
	clear(p.named)
	if p.hardware {
		p.rt.hardware.Leave(p.id.String())
		p.hardware = false
	}
	p.rt.forget(p.id)
	p.stopped = true
	p.state = StateStopped
	p.log.Info("pipeline stopped", logger.Fields("name", p.name))
}

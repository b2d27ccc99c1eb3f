package engine

import (
	"time"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// Seek moves the stream position, changes the rate, or both. It is a
// no-op while stopping or before the pipeline was started.
func (p *Pipeline) Seek(opts SeekOptions) error {
	if p.exiting.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seekLocked(opts, true)
}

// ExitSegmentMode replaces a segment seek with a plain one at the
// current rate so playback runs to the end of the stream.
func (p *Pipeline) ExitSegmentMode() error {
	return p.Seek(SeekOptions{})
}

// seekLocked issues the seek on a separate goroutine under the seek lock
// and waits briefly for it. Start calls it before the pipeline counts as
// running.
func (p *Pipeline) seekLocked(opts SeekOptions, requireRunning bool) error {
	if p.exiting.Load() || requireRunning && !p.running {
		return nil
	}

	rate := p.targetRate
	if opts.Rate != nil {
		rate = *opts.Rate
	}
	req := media.SeekRequest{Rate: rate}
	if opts.Position != nil {
		pos := max(*opts.Position, 0)
		p.startTime = time.Now().Add(-time.Duration(pos * float64(time.Second)))
		req.HasStart = true
		req.Start = time.Duration((pos + seekOffset.Seconds()) * float64(time.Second))
	}
	p.targetRate = rate
	p.pipelineRate = rate

	flush := opts.flush()
	if flush {
		req.Flags |= media.SeekFlush
	}
	if opts.Segment {
		req.Flags |= media.SeekSegment
	}
	if opts.Skip {
		req.Flags |= media.SeekSkip
	}

	if !flush && p.pipe.State() == media.StatePaused {
		return errors.SeekDeadlockRisk()
	}

	issued := make(chan error, 1)
	do := func() {
		p.seekMu.Lock()
		p.seekSince.Store(time.Now().UnixNano())
		defer func() {
			p.seekSince.Store(0)
			p.seekMu.Unlock()
		}()
		// The state may have changed while waiting for the lock.
		if !flush && p.pipe.State() == media.StatePaused {
			issued <- errors.SeekDeadlockRisk().WithDetail("in_flight", true)
			return
		}
		issued <- p.pipe.Seek(req)
	}

	if opts.Sync {
		do()
	} else {
		go do()
	}

	select {
	case err := <-issued:
		if err != nil {
			if errors.IsAppError(err) {
				return err
			}
			return errors.Internal(err)
		}
		p.log.Debug("seek issued", logger.Fields("rate", rate, "flush", flush, "segment", opts.Segment))
		return nil
	case <-time.After(seekIssueWait):
		// Probably raced into PAUSED. Playing again unblocks the seek.
		if !flush {
			p.log.Debug("seek not issued, forcing PLAYING")
			if err := p.pipe.SetState(media.StatePlaying); err != nil {
				return errors.Internal(err)
			}
		}
		return nil
	}
}

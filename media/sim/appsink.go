package sim

import (
	"sync"
	"time"

	"github.com/kbukum/iceflow/media"
)

// unboundedLimit caps an appsink with max-buffers=0.
const unboundedLimit = 64

type appSink struct {
	*element

	smu     sync.Mutex
	samples []*media.Sample
	notify  chan struct{}
}

var _ media.AppSink = (*appSink)(nil)

func newAppSink(e *element) *appSink {
	return &appSink{element: e, notify: make(chan struct{}, 1)}
}

func (a *appSink) push(s *media.Sample) {
	limit := unboundedLimit
	if n, _ := a.prop("max-buffers").(uint64); n > 0 {
		limit = int(n)
	}
	drop, _ := a.prop("drop").(bool)

	a.smu.Lock()
	if len(a.samples) >= limit {
		if !drop {
			a.smu.Unlock()
			return
		}
		a.samples = a.samples[1:]
	}
	a.samples = append(a.samples, s)
	a.smu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *appSink) TryPull(timeout time.Duration) *media.Sample {
	deadline := time.Now().Add(timeout)
	for {
		a.smu.Lock()
		if len(a.samples) > 0 {
			s := a.samples[0]
			a.samples = a.samples[1:]
			a.smu.Unlock()
			return s
		}
		a.smu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-a.notify:
			t.Stop()
		case <-t.C:
			return nil
		}
	}
}

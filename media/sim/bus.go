package sim

import (
	"sync/atomic"
	"time"

	"github.com/kbukum/iceflow/media"
)

const busCapacity = 4096

type bus struct {
	queue   chan *media.Message
	handler atomic.Pointer[media.SyncHandler]
	dropped atomic.Uint64
}

func newBus() *bus {
	return &bus{queue: make(chan *media.Message, busCapacity)}
}

func (b *bus) SetSyncHandler(h media.SyncHandler) {
	if h == nil {
		b.handler.Store(nil)
		return
	}
	b.handler.Store(&h)
}

func (b *bus) Pop(timeout time.Duration) *media.Message {
	select {
	case m := <-b.queue:
		return m
	default:
	}
	if timeout <= 0 {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-b.queue:
		return m
	case <-t.C:
		return nil
	}
}

// post runs the sync handler on the calling thread and queues m. The queue
// drops messages when full.
func (b *bus) post(m *media.Message) {
	if h := b.handler.Load(); h != nil {
		(*h)(m)
	}
	select {
	case b.queue <- m:
	default:
		b.dropped.Add(1)
	}
}

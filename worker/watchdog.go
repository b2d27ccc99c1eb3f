package worker

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrParentGone is returned when the process that started the worker
// has exited.
var ErrParentGone = stderrors.New("worker: parent process is gone")

// watchParent returns ErrParentGone once the parent pid changes or stops
// existing. A reparented worker sees a different parent pid.
func watchParent(ctx context.Context, ppid int, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if currentParent() != ppid || !alive(ppid) {
			return ErrParentGone
		}
	}
}

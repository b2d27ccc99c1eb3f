//go:build linux

package engine

import "golang.org/x/sys/unix"

// SchedFIFO sets SCHED_FIFO with the given priority.
type SchedFIFO struct{}

func (SchedFIFO) SetPriority(tid, priority int) error {
	return unix.SchedSetAttr(tid, &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}, 0)
}

func currentThreadID() int { return unix.Gettid() }

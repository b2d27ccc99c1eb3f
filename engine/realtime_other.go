//go:build !linux

package engine

import (
	stderrors "errors"
	"os"
)

// SchedFIFO is unavailable outside Linux.
type SchedFIFO struct{}

func (SchedFIFO) SetPriority(int, int) error {
	return stderrors.New("realtime priority is only supported on linux")
}

func currentThreadID() int { return os.Getpid() }

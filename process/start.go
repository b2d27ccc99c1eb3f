package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Handle is a running subprocess whose stdin and stdout are connected to
// the caller through pipes.
type Handle struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	grace  time.Duration

	done     chan struct{}
	waitErr  error
	exitCode int

	closeOnce sync.Once
}

// Start launches cmd without waiting for it. The child runs in its own
// process group so Terminate reaches anything it spawns.
func Start(cmd Command) (*Handle, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}

	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec // dynamic args are the purpose of this package
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)
	c.Stdin = inR
	c.Stdout = outW
	c.Stderr = cmd.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = cmd.grace()

	if err := c.Start(); err != nil {
		for _, f := range []*os.File{inR, inW, outR, outW} {
			f.Close()
		}
		return nil, fmt.Errorf("process: start %s: %w", cmd.Binary, err)
	}
	// The child holds its own copies.
	inR.Close()
	outW.Close()

	h := &Handle{
		cmd:      c,
		stdin:    inW,
		stdout:   outR,
		grace:    cmd.grace(),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.waitErr = err
	h.exitCode = h.cmd.ProcessState.ExitCode()
	close(h.done)
}

// Pid returns the child's process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Stdin is the write end of the child's standard input.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout is the read end of the child's standard output.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits and returns its exit error.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Signal sends sig to the child's process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.Exited() {
		return nil
	}
	err := syscall.Kill(-h.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Terminate sends SIGTERM, waits up to the grace period, then sends SIGKILL
// and waits for the child to be reaped. It returns true when the child
// exited within the grace period.
func (h *Handle) Terminate() bool {
	if h.Exited() {
		return true
	}
	_ = h.Signal(syscall.SIGTERM)

	timer := time.NewTimer(h.grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
	}

	_ = h.Signal(syscall.SIGKILL)
	<-h.done
	return false
}

// Close closes the parent's ends of the stdio pipes. It does not signal
// the child.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = errors.Join(h.stdin.Close(), h.stdout.Close())
	})
	return err
}

package process_test

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/iceflow/process"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStart_PipesRoundTrip(t *testing.T) {
	h, err := process.Start(process.Command{Binary: "cat"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Close()

	if _, err := io.WriteString(h.Stdin(), "ping\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(h.Stdout()).ReadString('\n')
	if err != nil || line != "ping\n" {
		t.Fatalf("read = %q, %v", line, err)
	}

	_ = h.Stdin().Close()
	if err := h.Wait(); err != nil {
		t.Fatalf("cat should exit cleanly on EOF, got %v", err)
	}
	if h.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", h.ExitCode())
	}
}

func TestStart_StderrForwarded(t *testing.T) {
	var stderr syncBuffer
	h, err := process.Start(process.Command{
		Binary: "sh",
		Args:   []string{"-c", "echo warn >&2"},
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Close()
	_ = h.Wait()

	if got := strings.TrimSpace(stderr.String()); got != "warn" {
		t.Errorf("stderr = %q", got)
	}
}

func TestStart_TerminateGraceful(t *testing.T) {
	h, err := process.Start(process.Command{Binary: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Close()

	if h.Exited() {
		t.Fatal("sleep exited early")
	}
	if !h.Terminate() {
		t.Error("sleep should exit on SIGTERM within the grace period")
	}
	if !h.Exited() {
		t.Error("expected Exited after Terminate")
	}
	// Terminating twice is harmless.
	if !h.Terminate() {
		t.Error("second Terminate should report an exited process")
	}
}

func TestStart_TerminateEscalatesToKill(t *testing.T) {
	h, err := process.Start(process.Command{
		Binary:      "sh",
		Args:        []string{"-c", "trap '' TERM; echo ready; while :; do sleep 0.05; done"},
		GracePeriod: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Close()

	if _, err := bufio.NewReader(h.Stdout()).ReadString('\n'); err != nil {
		t.Fatalf("waiting for trap: %v", err)
	}

	start := time.Now()
	if h.Terminate() {
		t.Error("expected escalation to SIGKILL")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("terminate took %v", time.Since(start))
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed after Terminate")
	}
}

func TestStart_MissingBinary(t *testing.T) {
	if _, err := process.Start(process.Command{Binary: "/nonexistent/iceflow-worker"}); err == nil {
		t.Fatal("expected start error for missing binary")
	}
	if _, err := process.Start(process.Command{}); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

package supervisor

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/kbukum/iceflow/worker"
)

// testWorkerEnv makes the test binary act as a worker. The mode is the
// first argument: serve, probe or hang.
const testWorkerEnv = "ICEFLOW_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(testWorkerEnv) == "1" && len(os.Args) > 1 {
		os.Exit(runTestWorker(os.Args[1], os.Args[2:]))
	}
	os.Exit(m.Run())
}

func runTestWorker(mode string, args []string) int {
	cfg, err := worker.LoadConfig()
	if err != nil {
		return 2
	}
	switch mode {
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
		defer stop()
		err = worker.ServeStdio(ctx, cfg)
	case "probe":
		if len(args) != 1 {
			return 2
		}
		err = worker.Probe(os.Stdout, cfg, args[0])
	case "hang":
		// Reads requests and never answers.
		_, _ = io.Copy(io.Discard, os.Stdin)
	default:
		return 2
	}
	if err != nil {
		return 1
	}
	return 0
}

// testConfig runs the test binary itself as the worker.
func testConfig(t *testing.T, mode string) Config {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	return Config{
		WorkerBinary: exe,
		WorkerArgs:   []string{mode},
		ProbeArgs:    []string{"probe"},
		Env:          []string{testWorkerEnv + "=1"},
		SettleDelay:  10 * time.Millisecond,
		GracePeriod:  300 * time.Millisecond,
		CallTimeout:  5 * time.Second,
		StopTimeout:  5 * time.Second,
		Worker: worker.Config{
			StateTimeout: 5 * time.Second,
			ClockWait:    5 * time.Second,
			LogLevel:     "warn",
			StopLinger:   100 * time.Millisecond,
			SimTick:      10 * time.Millisecond,
		},
	}
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt := NewRuntime(cfg)
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

package gpu

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	nvidiaListOutput = `GPU 0: NVIDIA A100-SXM4-40GB (UUID: GPU-0f9c1d7e-3a5b-4c6d-8e9f-0a1b2c3d4e5f)
GPU 1: NVIDIA A100-SXM4-40GB (UUID: GPU-1e8d2c6f-4b3a-5d7c-9f0e-1b2c3d4e5f60)
GPU 2: NVIDIA A100-SXM4-40GB (UUID: GPU-2d7e3b5a-5c4b-6e8d-0a1f-2c3d4e5f6071)
`
	rocmShowIDOutput = `

========================= ROCm System Management Interface =========================
=================================== ID ===================================
GPU[0]		: GPU ID: 0x740c
GPU[1]		: GPU ID: 0x740c
===========================================================================
=========================== End of ROCm SMI Log ============================
`
)

type fakeExit struct {
	code int
}

func (e fakeExit) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e fakeExit) ExitCode() int { return e.code }

type fakeRun struct {
	output string
	err    error
	hang   bool
}

// fakeLauncher answers for executables by name; anything unknown is reported
// as missing from PATH.
type fakeLauncher struct {
	mu    sync.Mutex
	runs  map[string]fakeRun
	calls []string
}

func newFakeLauncher(runs map[string]fakeRun) *fakeLauncher {
	return &fakeLauncher{runs: runs}
}

func (f *fakeLauncher) Launch(ctx context.Context, argv []string, stdout io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, strings.Join(argv, " "))
	run, ok := f.runs[argv[0]]
	f.mu.Unlock()

	if !ok {
		return &exec.Error{Name: argv[0], Err: exec.ErrNotFound}
	}
	if run.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if _, err := io.WriteString(stdout, run.output); err != nil {
		return err
	}
	return run.err
}

func (f *fakeLauncher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]string, len(f.calls))
	copy(calls, f.calls)
	return calls
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func newTestDetector(t *testing.T, launcher Launcher, ceiling time.Duration) (*Detector, *test.Hook) {
	t.Helper()
	logger, hook := newTestLogger()
	return NewDetector(newCounter(launcher, logger, ceiling), logger), hook
}

package gpu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReason_String(t *testing.T) {
	tests := []struct {
		reason   Reason
		expected string
	}{
		{ReasonOK, "ok"},
		{ReasonNonZeroExit, "non_zero_exit"},
		{ReasonExecutableNotFound, "executable_not_found"},
		{ReasonLaunchFailed, "launch_failed"},
		{ReasonTimeout, "timeout"},
		{Reason(42), "unknown"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.reason.String())
	}
}

func TestCounterCount(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		runs     map[string]fakeRun
		expected int
		reason   Reason
	}{
		{
			name:     "nvidia lists three devices",
			command:  NvidiaSMI,
			runs:     map[string]fakeRun{"nvidia-smi": {output: nvidiaListOutput}},
			expected: 3,
			reason:   ReasonOK,
		},
		{
			name:     "rocm ids are filtered",
			command:  RocmSMI,
			runs:     map[string]fakeRun{"rocm-smi": {output: rocmShowIDOutput}},
			expected: 2,
			reason:   ReasonOK,
		},
		{
			name:     "success without output",
			command:  NvidiaSMI,
			runs:     map[string]fakeRun{"nvidia-smi": {output: "\n\n"}},
			expected: 0,
			reason:   ReasonOK,
		},
		{
			name:    "non-zero exit ignores output",
			command: NvidiaSMI,
			runs: map[string]fakeRun{"nvidia-smi": {
				output: "NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver.\n",
				err:    fakeExit{code: 9},
			}},
			expected: 0,
			reason:   ReasonNonZeroExit,
		},
		{
			name:     "missing executable",
			command:  NvidiaSMI,
			runs:     map[string]fakeRun{},
			expected: 0,
			reason:   ReasonExecutableNotFound,
		},
		{
			name:     "launch failure",
			command:  NvidiaSMI,
			runs:     map[string]fakeRun{"nvidia-smi": {err: fmt.Errorf("fork/exec nvidia-smi: %w", os.ErrPermission)}},
			expected: 0,
			reason:   ReasonLaunchFailed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			logger, _ := newTestLogger()
			counter := newCounter(newFakeLauncher(test.runs), logger, time.Second)

			probe, err := counter.Count(context.Background(), test.command)
			require.NoError(t, err)
			assert.Equal(t, test.expected, probe.Count)
			assert.Equal(t, test.reason, probe.Reason)
			assert.Equal(t, test.command.Name, probe.Command.Name)
			if test.reason == ReasonOK {
				assert.NoError(t, probe.Err)
			} else {
				assert.Error(t, probe.Err)
			}
		})
	}
}

func TestCounterCount_Timeout(t *testing.T) {
	logger, _ := newTestLogger()
	launcher := newFakeLauncher(map[string]fakeRun{"nvidia-smi": {hang: true}})
	counter := newCounter(launcher, logger, 50*time.Millisecond)

	probe, err := counter.Count(context.Background(), NvidiaSMI)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDetectionTimeout)
	assert.Equal(t, ReasonTimeout, probe.Reason)
	assert.Equal(t, 0, probe.Count)
	assert.Equal(t, "nvidia-smi --list-gpus timed out after 50ms", err.Error())

	var detectionErr *DetectionError
	require.True(t, errors.As(err, &detectionErr))
	assert.Equal(t, NvidiaSMI.Name, detectionErr.Command.Name)
	assert.Equal(t, 50*time.Millisecond, detectionErr.Ceiling)
}

func TestCounterCount_CallerCancelled(t *testing.T) {
	logger, _ := newTestLogger()
	launcher := newFakeLauncher(map[string]fakeRun{"nvidia-smi": {hang: true}})
	counter := newCounter(launcher, logger, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := counter.Count(ctx, NvidiaSMI)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrDetectionTimeout)
}

func TestCounterCount_EmptyCommand(t *testing.T) {
	logger, _ := newTestLogger()
	launcher := newFakeLauncher(nil)
	counter := newCounter(launcher, logger, time.Second)

	_, err := counter.Count(context.Background(), Command{Name: "nothing"})
	require.Error(t, err)
	assert.Empty(t, launcher.Calls())
}

func TestCounterCount_LogsNonFatalFailures(t *testing.T) {
	logger, hook := newTestLogger()
	counter := newCounter(newFakeLauncher(nil), logger, time.Second)

	_, err := counter.Count(context.Background(), NvidiaSMI)
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "Error launching nvidia-smi, no GPU could be detected", entry.Message)
	assert.Equal(t, "nvidia-smi --list-gpus", entry.Data["command"])
}

func TestNewCounter_DefaultLogger(t *testing.T) {
	counter := NewCounter(nil)
	assert.Equal(t, DetectionCeiling, counter.ceiling)
	assert.Equal(t, 10*time.Second, counter.ceiling)
	assert.NotNil(t, counter.logger)

	counter = NewCounterWithLauncher(newFakeLauncher(nil), nil)
	assert.Equal(t, DetectionCeiling, counter.ceiling)
}

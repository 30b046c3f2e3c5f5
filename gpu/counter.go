package gpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// DetectionCeiling is the longest a single detection command may run.
const DetectionCeiling = 10 * time.Second

var ErrDetectionTimeout = errors.New("gpu detection timed out")

type Reason int

const (
	ReasonOK Reason = iota
	ReasonNonZeroExit
	ReasonExecutableNotFound
	ReasonLaunchFailed
	ReasonTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonNonZeroExit:
		return "non_zero_exit"
	case ReasonExecutableNotFound:
		return "executable_not_found"
	case ReasonLaunchFailed:
		return "launch_failed"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// DetectionError describes a detection command that could not be brought to
// completion. Count only returns it for ReasonTimeout.
type DetectionError struct {
	Command Command
	Reason  Reason
	Ceiling time.Duration
	Err     error
}

func (e *DetectionError) Error() string {
	if e.Reason == ReasonTimeout {
		return fmt.Sprintf("%s timed out after %s", e.Command, e.Ceiling)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Command, e.Reason, e.Err)
}

func (e *DetectionError) Unwrap() error {
	if e.Reason == ReasonTimeout {
		return ErrDetectionTimeout
	}
	return e.Err
}

// Probe is the outcome of running one detection command.
type Probe struct {
	Command Command
	Count   int
	Reason  Reason
	Err     error
}

// Launcher starts argv, copies its standard output to stdout and blocks until
// it exits or ctx is done.
type Launcher interface {
	Launch(ctx context.Context, argv []string, stdout io.Writer) error
}

type execLauncher struct{}

func (execLauncher) Launch(ctx context.Context, argv []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	// children that inherit stdout must not hold Wait open past the kill
	cmd.WaitDelay = time.Second
	return cmd.Run()
}

type exitCoder interface {
	ExitCode() int
}

type Counter struct {
	launcher Launcher
	logger   logrus.FieldLogger
	ceiling  time.Duration
}

// NewCounter returns a Counter that launches real processes. A nil logger
// uses the logrus standard logger.
func NewCounter(logger logrus.FieldLogger) *Counter {
	return newCounter(execLauncher{}, logger, DetectionCeiling)
}

// NewCounterWithLauncher returns a Counter that starts commands through
// launcher, for hosts where the tools must be reached some other way.
func NewCounterWithLauncher(launcher Launcher, logger logrus.FieldLogger) *Counter {
	return newCounter(launcher, logger, DetectionCeiling)
}

func newCounter(launcher Launcher, logger logrus.FieldLogger, ceiling time.Duration) *Counter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Counter{
		launcher: launcher,
		logger:   logger,
		ceiling:  ceiling,
	}
}

// Count runs cmd and returns the number of devices it reports. A missing
// executable, a launch failure or a non-zero exit yield a zero count with the
// matching Reason and a nil error. Exceeding the ceiling is fatal.
func (c *Counter) Count(ctx context.Context, cmd Command) (Probe, error) {
	probe := Probe{Command: cmd}
	if len(cmd.Argv) == 0 {
		return probe, fmt.Errorf("command %q: empty argument vector", cmd.Name)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.ceiling)
	defer cancel()

	var stdout bytes.Buffer
	start := time.Now()
	err := c.launcher.Launch(runCtx, cmd.Argv, &stdout)
	log := c.logger.WithField("command", cmd.String())

	if err != nil {
		if ctx.Err() != nil {
			return probe, fmt.Errorf("%s: %w", cmd, ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			probe.Reason = ReasonTimeout
			probe.Err = &DetectionError{Command: cmd, Reason: ReasonTimeout, Ceiling: c.ceiling, Err: err}
			return probe, probe.Err
		}

		probe.Err = err
		var exitErr exitCoder
		switch {
		case errors.As(err, &exitErr):
			probe.Reason = ReasonNonZeroExit
			log.WithField("exit_code", exitErr.ExitCode()).Info("command exited with non-zero status, no GPU detected")
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			probe.Reason = ReasonExecutableNotFound
			log.Infof("Error launching %s, no GPU could be detected", cmd.Argv[0])
		default:
			probe.Reason = ReasonLaunchFailed
			log.WithError(err).Infof("Error launching %s, no GPU could be detected", cmd.Argv[0])
		}
		return probe, nil
	}

	probe.Count = countLines(stdout.String(), cmd.Match)
	log.WithFields(logrus.Fields{
		"count":   probe.Count,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("detection command completed")
	return probe, nil
}

package gpu

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Detection is the cached outcome of a detector. Source names the command
// whose count was kept and is empty when no tool reported a device.
type Detection struct {
	Count  int
	Source string
	Probes []Probe
}

// Detector runs the primary command, falls back to the secondary one when
// the primary reports nothing, and keeps the first completed result for its
// whole lifetime. The GPU population of a host is not expected to change
// while a process runs, so the cache is never refreshed.
type Detector struct {
	mu       sync.Mutex
	counter  *Counter
	logger   logrus.FieldLogger
	primary  Command
	fallback Command

	detection *Detection
}

// NewDetector returns a Detector using nvidia-smi then rocm-smi.
func NewDetector(counter *Counter, logger logrus.FieldLogger) *Detector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if counter == nil {
		counter = NewCounter(logger)
	}
	return &Detector{
		counter:  counter,
		logger:   logger,
		primary:  NvidiaSMI,
		fallback: RocmSMI,
	}
}

// Detect returns the number of GPUs on the host. Only a command exceeding
// DetectionCeiling makes it fail; the error is not cached.
func (d *Detector) Detect(ctx context.Context) (int, error) {
	detection, err := d.Detection(ctx)
	if err != nil {
		return 0, err
	}
	return detection.Count, nil
}

func (d *Detector) Detection(ctx context.Context) (Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.detection != nil {
		return *d.detection, nil
	}

	detection, err := d.detect(ctx)
	if err != nil {
		return Detection{}, err
	}
	d.detection = &detection
	return detection, nil
}

// Cached reports the stored detection without running any command.
func (d *Detector) Cached() (Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detection == nil {
		return Detection{}, false
	}
	return *d.detection, true
}

func (d *Detector) detect(ctx context.Context) (Detection, error) {
	var detection Detection

	probe, err := d.counter.Count(ctx, d.primary)
	if err != nil {
		return detection, err
	}
	detection.Probes = append(detection.Probes, probe)
	if probe.Count > 0 {
		detection.Count = probe.Count
		detection.Source = d.primary.Name
		d.logger.WithFields(logrus.Fields{"source": detection.Source, "count": detection.Count}).Info("GPUs detected")
		return detection, nil
	}

	d.logger.WithField("reason", probe.Reason).Infof("Error launching %s, no GPU could be detected. Trying %s...", d.primary.Name, d.fallback.Name)

	probe, err = d.counter.Count(ctx, d.fallback)
	if err != nil {
		return detection, err
	}
	detection.Probes = append(detection.Probes, probe)
	if probe.Count == 0 {
		d.logger.WithField("reason", probe.Reason).Infof("Error launching %s, no GPU could be detected.", d.fallback.Name)
		return detection, nil
	}

	detection.Count = probe.Count
	detection.Source = d.fallback.Name
	d.logger.WithFields(logrus.Fields{"source": detection.Source, "count": detection.Count}).Info("GPUs detected")
	return detection, nil
}

var defaultDetector = sync.OnceValue(func() *Detector {
	return NewDetector(nil, nil)
})

// NumGPUs returns the number of GPUs visible on the host using a process-wide
// Detector. The first call runs the detection commands, every later call
// returns the same count without launching anything. The only error is a
// detection command hanging past DetectionCeiling, in which case the next
// call tries again.
func NumGPUs() (int, error) {
	return defaultDetector().Detect(context.Background())
}

// Default returns the process-wide Detector behind NumGPUs.
func Default() *Detector {
	return defaultDetector()
}

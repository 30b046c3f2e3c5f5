package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mostlygeek/gpucount/gpu"
	"github.com/mostlygeek/gpucount/gpu/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/tidwall/sjson"
)

var version = "0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run executes the command line and returns the process exit code. A nil
// counter launches the real vendor tools.
func run(args []string, stdout, stderr io.Writer, counter *gpu.Counter) int {
	flags := pflag.NewFlagSet("gpucount", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML config file")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := flags.String("log-format", "", "log format: text, json")
	listen := flags.String("listen", "", "serve the detection over HTTP on this address")
	jsonOut := flags.Bool("json", false, "print the detection as JSON")
	watchConfig := flags.Bool("watch-config", false, "re-apply log settings when the config file changes")
	showVersion := flags.Bool("version", false, "print the version and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "gpucount version: %s\n", version)
		return 0
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	cfg = cfg.Merge(config.Config{
		LogLevel:  strings.ToLower(*logLevel),
		LogFormat: strings.ToLower(*logFormat),
		Listen:    *listen,
		JSON:      *jsonOut,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger, err := gpu.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if counter == nil {
		counter = gpu.NewCounter(logger)
	}
	detector := gpu.NewDetector(counter, logger)

	if cfg.Listen != "" {
		if err := serve(cfg, *configPath, *watchConfig, detector, logger); err != nil {
			logger.WithError(err).Error("server stopped")
			return 1
		}
		return 0
	}

	detection, err := detector.Detection(context.Background())
	if err != nil {
		logger.WithError(err).Error("gpu detection failed")
		return 1
	}

	if cfg.JSON {
		out, err := detectionJSON(detection)
		if err != nil {
			logger.WithError(err).Error("encoding detection")
			return 1
		}
		fmt.Fprintln(stdout, out)
		return 0
	}
	fmt.Fprintln(stdout, detection.Count)
	return 0
}

func detectionJSON(detection gpu.Detection) (string, error) {
	out, err := sjson.Set("", "count", detection.Count)
	if err != nil {
		return "", err
	}
	return sjson.Set(out, "source", detection.Source)
}

func serve(cfg config.Config, configPath string, watch bool, detector *gpu.Detector, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// detect before accepting requests so the first client does not wait
	if _, err := detector.Detect(ctx); err != nil {
		return err
	}

	if watch && configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(updated config.Config) {
				if err := gpu.ConfigureLogger(logger, updated.LogLevel, updated.LogFormat); err != nil {
					logger.WithError(err).Warn("ignoring reloaded log settings")
					return
				}
				logger.WithField("logLevel", updated.LogLevel).Info("config reloaded")
			}, func(err error) {
				logger.WithError(err).Warn("config reload failed")
			})
			if err != nil {
				logger.WithError(err).Warn("config watcher stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: gpu.NewServer(detector, logger),
	}

	errC := make(chan error, 1)
	go func() {
		logger.WithField("listen", cfg.Listen).Info("gpucount listening")
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

package gpu

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

func NewLogger(out io.Writer, level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	if err := ConfigureLogger(logger, level, format); err != nil {
		return nil, err
	}
	return logger, nil
}

// ConfigureLogger applies a level (debug, info, warn, error) and a format
// (text, json) to logger. Empty values leave the current setting alone.
func ConfigureLogger(logger *logrus.Logger, level, format string) error {
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logger.SetLevel(parsed)
	}

	switch strings.ToLower(format) {
	case "":
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

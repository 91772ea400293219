package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a text logger writing to w at the given level name.
func New(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return logger, nil
}

// Discard returns a logger that drops everything. Handy for tests and library callers
// that do not care about progress output.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Timing logs the start of an operation and returns a func that logs its duration.
func Timing(log logrus.FieldLogger, operation string) func() {
	start := time.Now()
	log.Debugf("Starting: %s", operation)

	return func() {
		log.WithField("took", time.Since(start).Round(time.Millisecond)).Infof("Completed: %s", operation)
	}
}

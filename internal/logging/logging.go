// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package logging builds the diagnostic logger. Output goes to a file under
// the config directory so log lines never interleave with the interactive
// terminal stream.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/polychat-dev/polychat/internal/config"
)

// New constructs a logger from the logging config, writing to path. The
// returned closer releases the log file.
func New(cfg config.LoggingConfig, path string) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		})
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Fall back to stderr rather than refusing to start over a log file.
		log.SetOutput(os.Stderr)
		log.WithError(err).Warn("could not open log file, logging to stderr")
		return log, nopCloser{}, nil
	}
	log.SetOutput(f)

	return log, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Discard returns a logger that drops everything, for tests and for
// components that run before the real logger exists.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

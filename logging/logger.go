// Package logging builds the component loggers used across the module.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
	output    io.Writer = os.Stderr
	forced    *logrus.Level
)

// NewLogger returns the logger for a component. Loggers are created once
// per component and shared afterwards.
//
// MIRROR_LOG_LEVEL selects the level (default "info") and
// MIRROR_LOG_FORMAT=json switches to JSON output.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, ok := loggers[component]; ok {
		return logger
	}

	logger := logrus.New()
	logger.SetOutput(output)

	level, err := logrus.ParseLevel(envOr("MIRROR_LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	if forced != nil {
		level = *forced
	}
	logger.SetLevel(level)

	if strings.EqualFold(os.Getenv("MIRROR_LOG_FORMAT"), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// SetOutput redirects every logger created afterwards and all existing ones.
func SetOutput(w io.Writer) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	output = w
	for _, entry := range loggers {
		entry.Logger.SetOutput(w)
	}
}

// SetLevel changes the level of all existing loggers and of those created
// afterwards, overriding MIRROR_LOG_LEVEL.
func SetLevel(level logrus.Level) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	forced = &level
	for _, entry := range loggers {
		entry.Logger.SetLevel(level)
	}
}

// OrDefault returns logger, or the component logger when logger is nil.
func OrDefault(logger *logrus.Entry, component string) *logrus.Entry {
	if logger != nil {
		return logger
	}
	return NewLogger(component)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

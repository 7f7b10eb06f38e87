// Package logger wraps logrus with the process-wide configuration micasa
// derives from the -l/--loglevel CLI flag.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a thin handle around a logrus.Logger instance.
type Logger struct {
	*logrus.Logger
}

// Config controls level and format.
type Config struct {
	// Level mirrors the CLI flag: 0 normal, 1 verbose, 99 debug.
	Level  int
	Format string // "text" or "json"
}

// New creates a logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()
	l.SetLevel(levelFromFlag(cfg.Level))
	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)
	return &Logger{Logger: l}
}

// NewDefault creates a logger at info level (the verbose setting), for components that
// construct one ad hoc (e.g. in tests) rather than receiving it injected.
func NewDefault(name string) *Logger {
	l := New(Config{Level: 0, Format: "text"})
	l.Logger.SetLevel(logrus.InfoLevel)
	return l
}

// levelFromFlag maps the CLI's three-valued verbosity onto logrus levels.
func levelFromFlag(flag int) logrus.Level {
	switch {
	case flag >= 99:
		return logrus.DebugLevel
	case flag >= 1:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

// WithComponent returns a derived entry tagging the "component" field,
// following the teacher's WithField convention.
func (l *Logger) WithComponent(name string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", name)}
}

// Entry wraps *logrus.Entry so component loggers stay type-distinct from
// the root Logger while sharing the same call surface used by callers.
type Entry struct {
	*logrus.Entry
}

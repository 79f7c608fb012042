// Package logging configures per-component logrus loggers the way
// grovetools-core/logging/logger.go does: one cached *logrus.Entry per
// component name, level driven by CNM_LOG_LEVEL with an Options
// fallback, format chosen by Options.JSON, and a terminal-aware decision about whether
// structured logs also go to stderr.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	loggers = make(map[string]*logrus.Entry)
)

// Options controls logger construction; callers typically derive this
// from config.Config rather than constructing it by hand.
type Options struct {
	Level      string
	JSON       bool
	ReportCaller bool
}

// NewLogger returns the cached logger for component, creating it with
// opts on first use. Subsequent calls for the same component ignore
// opts and return the already-configured entry, matching the teacher's
// singleton-per-component pattern.
func NewLogger(component string, opts Options) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}

	logger := logrus.New()

	levelStr := opts.Level
	if env := os.Getenv("CNM_LOG_LEVEL"); env != "" {
		levelStr = env
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(opts.ReportCaller || os.Getenv("CNM_LOG_CALLER") == "true")

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.SetOutput(chooseOutput(logger))

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// chooseOutput decides whether logs go to stderr: always when piped or
// non-interactive, only when debugging when attached to a real
// terminal, matching the "auto" stderr mode in the teacher's logger.
func chooseOutput(logger *logrus.Logger) io.Writer {
	isDebug := logger.GetLevel() == logrus.DebugLevel || os.Getenv("CNM_DEBUG") == "1"
	isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if isDebug || !isInteractive {
		return os.Stderr
	}
	return io.Discard
}

// Reset clears the logger cache; used by tests that need a fresh
// component logger under different Options.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	loggers = make(map[string]*logrus.Entry)
}

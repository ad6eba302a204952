// Package logger owns the process-wide hclog root logger.
//
// Modules take a Named sub-logger at Init time; the package-level helpers
// exist for code that has no logger of its own (main, middleware).
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	root   hclog.Logger = hclog.New(&hclog.LoggerOptions{Name: "cinerelay", Level: hclog.Info})
	rootMu sync.RWMutex
)

// Options controls how the root logger is built
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // "json" or anything else for text
	Output io.Writer
}

// Init replaces the root logger. Safe to call more than once (config reload).
func Init(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := hclog.LevelFromString(strings.ToLower(opts.Level))
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       "cinerelay",
		Level:      level,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
		Output:     out,
	})

	rootMu.Lock()
	root = l
	rootMu.Unlock()
	return l
}

// Get returns the root logger
func Get() hclog.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// Named returns a sub-logger of the root logger
func Named(name string) hclog.Logger {
	return Get().Named(name)
}

// Info logs at info level with hclog-style key/value pairs
func Info(msg string, args ...interface{}) {
	Get().Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...interface{}) {
	Get().Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...interface{}) {
	Get().Error(msg, args...)
}

// Debug logs at debug level
func Debug(msg string, args ...interface{}) {
	Get().Debug(msg, args...)
}

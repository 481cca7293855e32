// Package logging provides the engine's logging facility: a small leveled
// logger, safe to call on a nil receiver, that every engine component takes
// at construction instead of reaching for the global log package directly.
package logging

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/fatih/color"
)

// debugEnabled is a process-wide flag toggled by the CLI's --debug option. It
// gates Debug* output on every Logger regardless of prefix.
var debugEnabled int32

// SetDebug enables or disables debug-level logging process-wide.
func SetDebug(enabled bool) {
	if enabled {
		atomic.StoreInt32(&debugEnabled, 1)
	} else {
		atomic.StoreInt32(&debugEnabled, 0)
	}
}

func debugIsEnabled() bool {
	return atomic.LoadInt32(&debugEnabled) != 0
}

// Logger is the engine's logging type. A nil *Logger is valid and discards
// everything, so components can be constructed without a logger in tests
// without special-casing nil checks at every call site.
type Logger struct {
	prefix string
}

// RootLogger is the root logger from which all other loggers derive.
var RootLogger = &Logger{}

// Sublogger creates a new logger with name appended to this logger's prefix.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(3, line)
}

// Info logs execution information with fmt.Sprintf semantics.
func (l *Logger) Info(format string, v ...interface{}) {
	if l != nil {
		l.output(fmt.Sprintf(format, v...))
	}
}

// Debug logs advanced execution information, but only if debugging is
// enabled.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l != nil && debugIsEnabled() {
		l.output(fmt.Sprintf(format, v...))
	}
}

// Warn logs a recoverable error with a yellow "Warning:" prefix.
func (l *Logger) Warn(err error) {
	if l != nil {
		l.output(color.YellowString("Warning: %v", err))
	}
}

// Error logs a fatal or semi-fatal error with a red "Error:" prefix.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(color.RedString("Error: %v", err))
	}
}

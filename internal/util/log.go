// Package util provides shared logging, stats and identification helpers.
package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// ──────────────────────────────────────────────────────────────────────────────
// pion logging bridge
// ──────────────────────────────────────────────────────────────────────────────

// loggerFactory hands out pion LeveledLoggers that print through pterm.
type loggerFactory struct {
	// minLevel filters pion's chatty internals independently of pterm's level.
	minLevel logging.LogLevel
}

// NewLoggerFactory returns a logging.LoggerFactory for pion components and
// the discovery package. Messages below minLevel are discarded.
func NewLoggerFactory(minLevel logging.LogLevel) logging.LoggerFactory {
	return &loggerFactory{minLevel: minLevel}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope, minLevel: f.minLevel}
}

// scopedLogger implements logging.LeveledLogger.
type scopedLogger struct {
	scope    string
	minLevel logging.LogLevel
}

func (l *scopedLogger) log(level logging.LogLevel, msg string) {
	if level > l.minLevel {
		return
	}

	args := pterm.DefaultLogger.Args("scope", l.scope)
	switch level {
	case logging.LogLevelTrace:
		pterm.DefaultLogger.Trace(msg, args)
	case logging.LogLevelDebug:
		pterm.DefaultLogger.Debug(msg, args)
	case logging.LogLevelInfo:
		pterm.DefaultLogger.Info(msg, args)
	case logging.LogLevelWarn:
		pterm.DefaultLogger.Warn(msg, args)
	default:
		pterm.DefaultLogger.Error(msg, args)
	}
}

func (l *scopedLogger) Trace(msg string) { l.log(logging.LogLevelTrace, msg) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	l.log(logging.LogLevelTrace, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Debug(msg string) { l.log(logging.LogLevelDebug, msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.log(logging.LogLevelDebug, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Info(msg string) { l.log(logging.LogLevelInfo, msg) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.log(logging.LogLevelInfo, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Warn(msg string) { l.log(logging.LogLevelWarn, msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.log(logging.LogLevelWarn, fmt.Sprintf(format, args...))
}
func (l *scopedLogger) Error(msg string) { l.log(logging.LogLevelError, msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.log(logging.LogLevelError, fmt.Sprintf(format, args...))
}

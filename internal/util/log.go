// Package util provides the shared logger and process-wide counters.
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

// Leveled logging functions backed by pterm prefixed printers.
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

// ---------------------------------------------------------------------------
// pion bridge
// ---------------------------------------------------------------------------

// PionLoggerFactory routes pion's internal logging through the pterm logger
// so ICE/DTLS diagnostics show up next to ours when -debug is on.
func PionLoggerFactory() logging.LoggerFactory {
	return pionFactory{}
}

type pionFactory struct{}

func (pionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

// pionLogger demotes pion's info level to debug: pion is chatty there.
type pionLogger struct {
	scope string
}

func (l pionLogger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("pion", l.scope)
}

func (l pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(msg, l.args()) }
func (l pionLogger) Tracef(format string, args ...interface{}) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l pionLogger) Debug(msg string) { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l pionLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l pionLogger) Info(msg string) { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l pionLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l pionLogger) Warn(msg string) { pterm.DefaultLogger.Warn(msg, l.args()) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l pionLogger) Error(msg string) { pterm.DefaultLogger.Error(msg, l.args()) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

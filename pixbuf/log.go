package pixbuf

import (
	"fmt"
	"strings"
	"time"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var (
	// Verbose is set when we want debug messages regardless of the configured level.
	Verbose bool

	mode = InfoMode
)

// Logger provides a way for the service to log messages at different severities.
// Implementations vary with the configured log format.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Criticalf is like Debugf, but at Critical level.
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are flushed and closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(pixbuf.WarningMode) will log any calls using
// Warningf, Errorf, or Criticalf.  To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
	if Verbose {
		mode = DebugMode
	}
}

// ParseLogMode converts a level name from configuration into a ModeFlag.
func ParseLogMode(level string) (ModeFlag, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugMode, nil
	case "", "info":
		return InfoMode, nil
	case "warning", "warn":
		return WarningMode, nil
	case "error":
		return ErrorMode, nil
	case "critical":
		return CriticalMode, nil
	case "silent":
		return SilentMode, nil
	default:
		return InfoMode, fmt.Errorf("unknown log level %q", level)
	}
}

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		logger.Criticalf(format, args...)
	}
}

// Shutdown closes the package logger.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog adds elapsed time to logging and, when built with NewRequestLog,
// prefixes every message with the request and job it belongs to.
// Example:
//
//	mylog := NewTimeLog()
//	...
//	mylog.Debugf("stuff happened")  // Appends elapsed time from NewTimeLog() to message.
type TimeLog struct {
	prefix string
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{start: time.Now()}
}

// NewRequestLog returns a TimeLog whose messages carry the given request and job ids.
// Either id may be empty.
func NewRequestLog(requestID, jobID string) TimeLog {
	var parts []string
	if requestID != "" {
		parts = append(parts, "req="+requestID)
	}
	if jobID != "" {
		parts = append(parts, "job="+jobID)
	}
	var prefix string
	if len(parts) != 0 {
		prefix = "[" + strings.Join(parts, " ") + "] "
	}
	return TimeLog{prefix: prefix, start: time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(t.prefix+format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(t.prefix+format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(t.prefix+format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(t.prefix+format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		logger.Criticalf(t.prefix+format+": %s", append(args, time.Since(t.start))...)
	}
}

// Package logger is the leveled logger used throughout the retrainer.
// Messages are written through the standard `log` package with a "[LEVEL] " prefix and
// filtered by a process-wide level.
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel is the severity of a log message. Smaller values are more verbose.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the upper-case name used in the message prefix.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", level)
}

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// SetLogLevel sets the process-wide level from its name ("DEBUG", "INFO", "WARN", "ERROR", "FATAL").
// An unknown name falls back to INFO and is reported once on the log output.
func SetLogLevel(level string) {
	lvl, err := ParseLevel(level)
	if err != nil {
		log.Printf("[WARN] %v. Defaulting to INFO level.", err)
	}
	currentLevel.Store(int32(lvl))
}

// GetLogLevel returns the current level.
func GetLogLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects every message to w.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(l LogLevel) bool {
	return LogLevel(currentLevel.Load()) <= l
}

func output(l LogLevel, format string, v ...interface{}) {
	if !enabled(l) {
		return
	}
	log.Printf("["+l.String()+"] "+format, v...)
}

// Debugf logs at DEBUG level.
func Debugf(format string, v ...interface{}) { output(LevelDebug, format, v...) }

// Infof logs at INFO level.
func Infof(format string, v ...interface{}) { output(LevelInfo, format, v...) }

// Warnf logs at WARN level.
func Warnf(format string, v ...interface{}) { output(LevelWarn, format, v...) }

// Errorf logs at ERROR level.
func Errorf(format string, v ...interface{}) { output(LevelError, format, v...) }

// Fatalf logs the message regardless of level and terminates the process with exit code 1.
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}

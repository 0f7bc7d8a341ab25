// Package log is a minimal leveled logger shared by every daemon component.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Level controls which log calls actually write output.
type Level int32

const (
	LevelQuiet Level = iota
	LevelInfo
	LevelVerbose
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
	if os.Getenv("TAB_DEBUG") != "" {
		current.Store(int32(LevelVerbose))
	}
}

// Setup sets the active log level. Safe to call from multiple goroutines.
func Setup(level Level) {
	current.Store(int32(level))
}

func enabled(level Level) bool {
	return Level(current.Load()) >= level
}

func write(prefix, msg string, kv []interface{}) {
	ts := time.Now().Format("15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s", ts, prefix, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	fmt.Fprintln(os.Stderr, line)
}

// Debug logs a message only when verbose logging is enabled.
func Debug(msg string, kv ...interface{}) {
	if enabled(LevelVerbose) {
		write("debug", msg, kv)
	}
}

// Info logs a routine lifecycle message.
func Info(msg string, kv ...interface{}) {
	if enabled(LevelInfo) {
		write("info", msg, kv)
	}
}

// Warn logs a recoverable problem.
func Warn(msg string, kv ...interface{}) {
	write("warn", msg, kv)
}

// Error logs a failure that was handled but should be visible.
func Error(msg string, kv ...interface{}) {
	write("error", msg, kv)
}

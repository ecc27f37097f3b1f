package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel orders log severities.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel maps a level name to its LogLevel; unknown names fall
// back to LevelInfo.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled key-value logger scoped to one component. The level
// comes from the LOG_LEVEL environment variable and can be changed at
// runtime.
type Logger struct {
	component string
	out       *log.Logger
	level     atomic.Int32
}

// NewLogger creates a logger for the named component.
func NewLogger(component string) *Logger {
	l := &Logger{
		component: component,
		out:       log.New(os.Stdout, "", log.LstdFlags),
	}
	l.level.Store(int32(ParseLogLevel(os.Getenv("LOG_LEVEL"))))
	return l
}

// SetLevel changes the minimum level that gets emitted.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.emit(LevelDebug, "DEBUG", msg, keyvals)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.emit(LevelInfo, "INFO", msg, keyvals)
}

// Warn logs at warning level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.emit(LevelWarn, "WARN", msg, keyvals)
}

// Error logs at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.emit(LevelError, "ERROR", msg, keyvals)
}

func (l *Logger) emit(level LogLevel, tag, msg string, keyvals []interface{}) {
	if LogLevel(l.level.Load()) > level {
		return
	}

	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" [")
	b.WriteString(l.component)
	b.WriteString("] ")
	b.WriteString(msg)

	// Unpaired trailing keys are dropped rather than guessed at.
	for i := 0; i+1 < len(keyvals); i += 2 {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%v", keyvals[i]))
		b.WriteString("=")
		b.WriteString(formatLogValue(keyvals[i+1]))
	}

	l.out.Println(b.String())
}

func formatLogValue(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

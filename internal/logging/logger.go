// Package logging provides the process-wide component logger.
//
// Services depend on the printf-style Logger interface so tests can inject
// Nop() and production code can share the singleton sink.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	sinkInstance *sink
	sinkOnce     sync.Once
)

// sink is the shared output target for all component loggers.
type sink struct {
	mu    sync.Mutex
	out   *log.Logger
	level LogLevel
}

func getSink() *sink {
	sinkOnce.Do(func() {
		sinkInstance = &sink{
			out:   log.New(os.Stderr, "", 0),
			level: ParseLevel(os.Getenv("LOG_LEVEL")),
		}
	})
	return sinkInstance
}

// ParseLevel maps a LOG_LEVEL string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets the minimum level for the shared sink.
func SetLevel(level LogLevel) {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// ComponentLogger is a Logger scoped to a named component.
type ComponentLogger struct {
	component string
	sink      *sink
}

// NewComponentLogger creates a logger for a specific component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component, sink: getSink()}
}

func (l *ComponentLogger) log(level LogLevel, format string, args ...any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2025-09-30 12:34:56 [INFO] [TaskStack] store.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "FABLE"
	}
	message := fmt.Sprintf(format, args...)
	s.out.Printf("%s [%s] [%s] %s:%d - %s",
		timestamp, levelToString(level), component, file, line, message)
}

// Debug logs a debug message.
func (l *ComponentLogger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message.
func (l *ComponentLogger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message.
func (l *ComponentLogger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Error logs an error message.
func (l *ComponentLogger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

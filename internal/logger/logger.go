package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
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

// ParseLevel maps a config value (case-insensitive) to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
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

// Colors for terminal output
const (
	colorReset = "\033[0m"
	colorDebug = "\033[36m" // Cyan
	colorInfo  = "\033[32m" // Green
	colorWarn  = "\033[33m" // Yellow
	colorError = "\033[31m" // Red
)

func (l Level) Color() string {
	switch l {
	case DEBUG:
		return colorDebug
	case INFO:
		return colorInfo
	case WARN:
		return colorWarn
	case ERROR:
		return colorError
	default:
		return colorReset
	}
}

// sink is shared by every logger derived from the default one, so a single
// mutex serializes writes to the underlying output.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
	useColor bool
}

// Logger provides component-tagged leveled logging
type Logger struct {
	sink      *sink
	component string
	fields    map[string]interface{}
}

// Config for creating a new logger
type Config struct {
	Output   io.Writer
	MinLevel Level
	UseColor bool
}

var (
	defaultSink = &sink{output: os.Stdout, minLevel: INFO, useColor: true}
	redirectStd sync.Once
)

// Init configures the default sink. Loggers created earlier through
// WithComponent share the sink and pick up the new settings.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	defaultSink.mu.Lock()
	defaultSink.output = cfg.Output
	defaultSink.minLevel = cfg.MinLevel
	defaultSink.useColor = cfg.UseColor
	defaultSink.mu.Unlock()

	redirectStd.Do(func() {
		// Redirect standard log to our logger
		log.SetOutput(&logAdapter{logger: &Logger{sink: defaultSink, component: "STDLIB"}})
		log.SetFlags(0)
	})
}

// SetLevel changes the minimum level of the default sink.
func SetLevel(level Level) {
	defaultSink.mu.Lock()
	defaultSink.minLevel = level
	defaultSink.mu.Unlock()
}

// logAdapter adapts standard log to our logger
type logAdapter struct {
	logger *Logger
}

func (a *logAdapter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	a.logger.Info("%s", msg)
	return len(p), nil
}

// Default returns the default logger
func Default() *Logger {
	return &Logger{sink: defaultSink}
}

// WithComponent creates a logger with a component name
func WithComponent(component string) *Logger {
	l := Default()
	l.component = component
	return l
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{
		sink:      l.sink,
		component: l.component,
		fields:    newFields,
	}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.minLevel {
		return
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var sb strings.Builder
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	if s.useColor {
		sb.WriteString(fmt.Sprintf("%s[%s]%s ", level.Color(), level.String(), colorReset))
	} else {
		sb.WriteString(fmt.Sprintf("[%s] ", level.String()))
	}

	sb.WriteString(timestamp)

	if l.component != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", l.component))
	}

	sb.WriteString(" ")
	sb.WriteString(msg)

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" |")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, l.fields[k]))
		}
	}

	sb.WriteString("\n")

	fmt.Fprint(s.output, sb.String())
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}

// ErrorWithStack logs an error with stack trace
func (l *Logger) ErrorWithStack(msg string, err error) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	l.WithField("error", err.Error()).WithField("stack", string(buf[:n])).Error("%s", msg)
}

// Package-level convenience functions

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }

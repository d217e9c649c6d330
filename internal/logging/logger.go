package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// ParseLevel accepts level names in any case ("debug", "Info", "WARNING").
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug, nil
	case "INFO", "":
		return LogLevelInfo, nil
	case "WARN", "WARNING":
		return LogLevelWarn, nil
	case "ERROR":
		return LogLevelError, nil
	case "FATAL":
		return LogLevelFatal, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Component string
	Message   string
	Error     error
	Context   map[string]interface{}
}

// LogFormatter formats log entries for output
type LogFormatter interface {
	Format(entry *LogEntry) string
}

// TextFormatter formats logs as human-readable text
type TextFormatter struct{}

func (f *TextFormatter) Format(entry *LogEntry) string {
	timestamp := entry.Timestamp.Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf("[%s] %-5s [%s] %s", timestamp, entry.Level, entry.Component, entry.Message)
	return msg + formatTail(entry) + "\n"
}

// formatTail renders the error and context, keys sorted so lines diff well.
func formatTail(entry *LogEntry) string {
	var b strings.Builder
	if entry.Error != nil {
		fmt.Fprintf(&b, " | error=%v", entry.Error)
	}
	if len(entry.Context) > 0 {
		keys := make([]string, 0, len(entry.Context))
		for k := range entry.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Context[k])
		}
	}
	return b.String()
}

type sink struct {
	w         io.Writer
	formatter LogFormatter
}

// core is shared by a logger and every logger derived from it with Named.
type core struct {
	mu       sync.Mutex
	minLevel LogLevel
	sinks    []sink
}

// Logger provides structured logging functionality
type Logger struct {
	component string
	core      *core
}

// NewLogger creates a new logger for a specific component, writing text to
// stdout at INFO.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		core: &core{
			minLevel: LogLevelInfo,
			sinks:    []sink{{w: os.Stdout, formatter: &TextFormatter{}}},
		},
	}
}

// NewNopLogger discards everything. Useful in tests.
func NewNopLogger() *Logger {
	return &Logger{component: "nop", core: &core{minLevel: LogLevelFatal}}
}

// Named returns a logger for another component sharing outputs and level.
func (l *Logger) Named(component string) *Logger {
	return &Logger{component: component, core: l.core}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// SetMinLevel sets the minimum log level to output
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.minLevel = level
	return l
}

// SetOutput replaces every output with w using formatter.
func (l *Logger) SetOutput(w io.Writer, formatter LogFormatter) *Logger {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.sinks = []sink{{w: w, formatter: formatter}}
	return l
}

// AddOutput adds an output writer for logs with its own formatter
func (l *Logger) AddOutput(w io.Writer, formatter LogFormatter) *Logger {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	if formatter == nil {
		formatter = &TextFormatter{}
	}
	l.core.sinks = append(l.core.sinks, sink{w: w, formatter: formatter})
	return l
}

// log writes a log entry
func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	l.write(&LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		Message:   message,
		Error:     err,
		Context:   context,
	})
}

// write sends a prepared entry to every sink.
func (l *Logger) write(entry *LogEntry) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()

	// Check if this level should be logged
	if levelRank[entry.Level] < levelRank[l.core.minLevel] {
		return
	}

	for _, s := range l.core.sinks {
		io.WriteString(s.w, s.formatter.Format(entry))
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LogLevelDebug, fmt.Sprintf(format, args...), nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LogLevelInfo, fmt.Sprintf(format, args...), nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}

// Fatal logs a fatal error message. It does not exit; the caller decides
// the exit code.
func (l *Logger) Fatal(message string, err error) {
	l.log(LogLevelFatal, message, err, nil)
}

// WithContext returns a log function that includes context
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

// Debug logs a debug message with pre-set context
func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(LogLevelDebug, message, nil, cl.context)
}

// Info logs an info message with pre-set context
func (cl *ContextLogger) Info(message string) {
	cl.logger.log(LogLevelInfo, message, nil, cl.context)
}

// Warn logs a warning message with pre-set context
func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(LogLevelWarn, message, nil, cl.context)
}

// Error logs an error message with pre-set context
func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(LogLevelError, message, err, cl.context)
}

package internal

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
)

// LogLevel represents different logging levels.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled logger that redacts credential query parameters
// before anything reaches the log output.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	debug  bool
	quiet  bool
}

// NewLogger creates a logger writing to the given output.
func NewLogger(output io.Writer, level LogLevel, debug, quiet bool) *Logger {
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  level,
		debug:  debug,
		quiet:  quiet,
	}
}

// sensitive query parameters stripped from logged URLs
var redactedParams = []string{"login=", "api_key=", "password=", "token="}

// redact removes credential values from a message.
func redact(input string) string {
	result := input
	for _, param := range redactedParams {
		lower := strings.ToLower(result)
		idx := strings.Index(lower, param)
		if idx < 0 {
			continue
		}
		start := idx + len(param)
		end := start
		for end < len(result) && result[end] != '&' && result[end] != ' ' && result[end] != '\n' {
			end++
		}
		result = result[:start] + "[REDACTED]" + result[end:]
	}
	return result
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	if l.quiet && level > LogLevelError {
		return
	}

	msg := redact(fmt.Sprintf(format, args...))

	if l.debug {
		if _, file, line, ok := runtime.Caller(3); ok {
			if i := strings.LastIndexByte(file, '/'); i >= 0 {
				file = file[i+1:]
			}
			l.logger.Printf("[%s] %s:%d %s", level, file, line, msg)
			return
		}
	}
	l.logger.Printf("[%s] %s", level, msg)
}

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LogLevelError, format, args...)
}

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LogLevelWarn, format, args...)
}

// Infof logs at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LogLevelInfo, format, args...)
}

// Debugf logs at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LogLevelDebug, format, args...)
}

package internal

import (
	"io"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger *Logger
	loggerMutex  sync.RWMutex
)

// InitLogger initializes the global logger from the configuration.
func InitLogger(config *Config) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	level := ParseLogLevel(config.LogLevel)
	if config.EnableDebug {
		level = LogLevelDebug
	}

	var output io.Writer = os.Stderr
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewConfigError("log_file", err)
		}
		output = file
	}

	globalLogger = NewLogger(output, level, config.EnableDebug, config.QuietMode)
	return nil
}

// GetLogger returns the global logger, creating a default one on first use.
func GetLogger() *Logger {
	loggerMutex.RLock()
	if globalLogger != nil {
		defer loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(os.Stderr, LogLevelInfo, false, false)
	}
	return globalLogger
}

// ParseLogLevel converts a string log level to a LogLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogError logs at ERROR level via the global logger.
func LogError(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// LogWarn logs at WARN level via the global logger.
func LogWarn(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// LogInfo logs at INFO level via the global logger.
func LogInfo(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// LogDebug logs at DEBUG level via the global logger.
func LogDebug(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

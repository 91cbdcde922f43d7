package internal

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[SecureLogger]

// InitLogger installs the process-wide logger described by config
func InitLogger(config *Config) error {
	var output io.Writer = os.Stderr
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewValidationErrorWithValue("log_file", "failed to open log file", config.LogFile).
				WithSuggestion("Check that the directory exists and is writable").
				WithContext("error", err.Error())
		}
		output = file
	}

	SetLogger(NewSecureLogger(output, ParseLogLevel(config.LogLevel), config.EnableDebug, config.QuietMode))
	return nil
}

// SetLogger replaces the process-wide logger; nil restores the stderr default
func SetLogger(logger *SecureLogger) {
	defaultLogger.Store(logger)
}

// GetLogger returns the process-wide logger, creating an INFO stderr logger on first use
func GetLogger() *SecureLogger {
	if logger := defaultLogger.Load(); logger != nil {
		return logger
	}
	fallback := NewSecureLogger(os.Stderr, LogLevelInfo, false, false)
	if defaultLogger.CompareAndSwap(nil, fallback) {
		return fallback
	}
	return defaultLogger.Load()
}

// ParseLogLevel maps a configured level name to a LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	}
	return LogLevelInfo
}

func LogError(format string, args ...interface{}) { GetLogger().Error(format, args...) }
func LogWarn(format string, args ...interface{})  { GetLogger().Warn(format, args...) }
func LogInfo(format string, args ...interface{})  { GetLogger().Info(format, args...) }
func LogDebug(format string, args ...interface{}) { GetLogger().Debug(format, args...) }

// LogCZDSError logs err at the level its severity calls for. Critical errors
// are prefixed so they stand out in a log file shared by several runs.
func LogCZDSError(err *CZDSError) {
	logger := GetLogger()
	detail := err.DetailedError()
	if err.IsCritical() {
		logger.Error("CRITICAL: %s", detail)
		return
	}

	switch err.Severity {
	case SeverityWarning:
		logger.Warn("%s", detail)
	case SeverityInfo:
		logger.Info("%s", detail)
	default:
		logger.Error("%s", detail)
	}
}

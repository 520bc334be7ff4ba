package util

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	logMu    sync.Mutex
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
	quiet    bool
	colors   = IsTerminal(os.Stderr.Fd())
)

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	switch level {
	case LevelDebug:
		logLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		logLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		logLevel.SetLevel(zapcore.ErrorLevel)
	default:
		logLevel.SetLevel(zapcore.InfoLevel)
	}
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(q bool) {
	quiet = q
	if q {
		SetLogLevel(LevelError)
	}
}

// IsQuiet reports whether quiet mode is enabled
func IsQuiet() bool {
	return quiet
}

// SetColors enables or disables colored level names.
// Must be called before the first log line.
func SetColors(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	colors = enabled
	logger = nil
	sugar = nil
}

// Logger returns the shared zap logger, building it on first use
func Logger() *zap.Logger {
	logMu.Lock()
	defer logMu.Unlock()

	if logger == nil {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encCfg.CallerKey = ""
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if colors {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			logLevel,
		)
		logger = zap.New(core)
		sugar = logger.Sugar()
	}

	return logger
}

func sugared() *zap.SugaredLogger {
	Logger()
	return sugar
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	sugared().Debugf(format, args...)
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	sugared().Infof(format, args...)
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	sugared().Warnf(format, args...)
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	sugared().Errorf(format, args...)
}

// SuccessLog logs success messages at info level with an OK marker
func SuccessLog(format string, args ...interface{}) {
	sugared().Info("✓ " + fmt.Sprintf(format, args...))
}

// SyncLog flushes any buffered log output
func SyncLog() {
	_ = Logger().Sync()
}

// Package logger provides the process-wide structured logger. It mirrors
// the role launchpad.net/snappy/logger played for the teacher (activated
// once from main, used everywhere as a package-level handle), but is built
// on go.uber.org/zap instead of a hand-rolled log.Logger wrapper.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.Mutex
	log *zap.SugaredLogger
)

func init() {
	log = newDefault()
}

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// fall back to a no-op-safe logger rather than panic during init
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Activate (re)configures the global logger. debug widens the level to
// Debug; quiet silences everything below Warn. Only one of the two should
// be set by the caller (the CLI maps --debug/--quiet onto this).
func Activate(debug, quiet bool) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"

	switch {
	case debug:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case quiet:
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	log = l.Sugar()
	return nil
}

// L returns the current global logger.
func L() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return log
}

func Debugf(format string, args ...interface{}) { L().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().Errorf(format, args...) }

// LogError logs err (if non-nil) at error level and returns it unchanged,
// so call sites can do `return logger.LogError(doThing())` the way the
// teacher's logger.LogError(err) helper did.
func LogError(err error) error {
	if err != nil {
		L().Errorw("operation failed", "error", err)
	}
	return err
}

// Sync flushes any buffered log entries; call it from main's defer.
func Sync() {
	_ = L().Sync()
}

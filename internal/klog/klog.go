// Package klog provides the logger abstraction handed to every worker at
// construction time, so that concurrent progress and diagnostic output from
// multiple goroutines goes through one logger whose sink serializes the
// writes (zap's locked stderr sink for the logger New builds) instead of
// every package importing a concrete logging library.
package klog

import (
	"go.uber.org/zap"
)

// Logger is the narrow surface worker code is allowed to depend on. It is
// satisfied by the *zap.SugaredLogger wrapper New returns, and by Nop() for
// tests that don't care about log output.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(keyValues ...interface{}) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a Logger backed by a development-config zap logger: warn level
// for verbose <= 0, info for 1, debug above that.
func New(verbose int) (Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if verbose <= 0 {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	} else if verbose == 1 {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.s.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.s.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.s.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.s.Errorf(format, args...) }

func (z *zapLogger) With(keyValues ...interface{}) Logger {
	return &zapLogger{s: z.s.With(keyValues...)}
}

type nopLogger struct{}

// Nop returns a Logger that discards everything, for use in tests.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) With(...interface{}) Logger    { return nopLogger{} }

// Package xlog is a small leveled-logging shim in the shape of
// github.com/ethereum/go-ethereum/log: a Logger interface with
// Trace/Debug/Info/Warn/Error methods taking a message and an alternating
// key-value context, backed by log/slog. discv5 code logs through this
// interface rather than slog directly so packet handling reads the same way
// go-ethereum's log package conventions do (e.g. t.log.Trace("<< "+packet.Name(), ...)).
package xlog

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the logging interface used throughout this module.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// With returns a Logger that always includes the given context.
	With(ctx ...interface{}) Logger
}

// levelTrace sits below slog.LevelDebug, mirroring go-ethereum's log
// package, which defines a Trace level finer than Debug.
const levelTrace = slog.Level(-8)

type logger struct {
	inner *slog.Logger
}

// New returns a Logger that writes to os.Stderr as text, a human-readable
// console handler suitable as a default.
func New() Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelTrace})
	return &logger{inner: slog.New(h)}
}

// NewWithHandler wraps an arbitrary slog.Handler, e.g. a JSON handler for
// production log shipping.
func NewWithHandler(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &logger{inner: slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (l *logger) Trace(msg string, ctx ...interface{}) {
	l.inner.Log(context.Background(), levelTrace, msg, ctx...)
}
func (l *logger) Debug(msg string, ctx ...interface{}) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.inner.Error(msg, ctx...) }

func (l *logger) With(ctx ...interface{}) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

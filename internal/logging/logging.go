// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging provides the leveled logging facility used throughout
// embedded-runner. Loggers are attached to contexts and passed down the
// call chain; there is no process-wide logger.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level indicates a log message's severity.
type Level int

// Valid severity levels, in increasing order.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Logger is an interface to write logs.
//
// Implementations must be goroutine-safe; the decode task and the
// session supervisor log concurrently.
type Logger interface {
	// Log writes a log entry.
	Log(level Level, ts time.Time, msg string)
}

// SinkLogger writes logs to an io.Writer, one message per line.
type SinkLogger struct {
	mu      sync.Mutex
	w       io.Writer
	minimum Level
	logTime bool
}

// NewSinkLogger creates a SinkLogger writing to w. Messages below
// minimum are dropped. If logTime is true, each line is prefixed with a
// timestamp.
func NewSinkLogger(w io.Writer, logTime bool, minimum Level) *SinkLogger {
	return &SinkLogger{w: w, minimum: minimum, logTime: logTime}
}

// Log writes a log entry to the sink.
func (l *SinkLogger) Log(level Level, ts time.Time, msg string) {
	if level < l.minimum {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logTime {
		fmt.Fprintf(l.w, "%s %s\n", ts.Format("2006-01-02T15:04:05.000Z07:00"), msg)
	} else {
		fmt.Fprintln(l.w, msg)
	}
}

// FuncLogger is a Logger that calls a function. All calls to the
// underlying function are synchronized.
type FuncLogger struct {
	mu sync.Mutex
	f  func(level Level, ts time.Time, msg string)
}

// NewFuncLogger creates a new FuncLogger.
func NewFuncLogger(f func(level Level, ts time.Time, msg string)) *FuncLogger {
	return &FuncLogger{f: f}
}

// Log sends a log entry to the associated function.
func (l *FuncLogger) Log(level Level, ts time.Time, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f(level, ts, msg)
}

// MultiLogger is a Logger that copies logs to multiple underlying
// loggers.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new MultiLogger that copies logs to loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log copies a log entry to all underlying loggers.
func (l *MultiLogger) Log(level Level, ts time.Time, msg string) {
	for _, logger := range l.loggers {
		logger.Log(level, ts, msg)
	}
}

// ReplaceInvalidUTF8 drops all invalid UTF-8 sequences from a string.
// Target-emitted text is not guaranteed to be valid UTF-8.
func ReplaceInvalidUTF8(msg string) string {
	return strings.ToValidUTF8(msg, "")
}

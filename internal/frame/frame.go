// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package frame defines the decoded log frame emitted by the target and
// its JSON representation. Frames are immutable once produced by the
// decoder; downstream consumers treat them read-only.
package frame

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Level is the severity the target attached to a log statement.
type Level int

// Valid severity levels, in increasing order.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelTrace: "trace",
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// String returns the lowercase name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLevel converts a lowercase level name to a Level.
func ParseLevel(name string) (Level, error) {
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return 0, errors.Errorf("unknown log level %q", name)
}

// MarshalJSON encodes the level as its lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes the level from its lowercase name.
func (l *Level) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ModulePath identifies the source module a log statement lives in,
// split into the crate, the nested modules in order, and the function.
type ModulePath struct {
	Crate    string   `json:"crate"`
	Modules  []string `json:"modules"`
	Function string   `json:"function"`
}

// Location points at the source line a log statement was compiled from.
// File is relative to the build root when it could be resolved.
type Location struct {
	File       string      `json:"file"`
	Line       uint32      `json:"line"`
	ModulePath *ModulePath `json:"modulePath,omitempty"`
}

// Frame is one decoded unit of target-emitted log data.
type Frame struct {
	// Text is the fully interpolated log message.
	Text string `json:"data"`
	// Level is the severity, or nil if the statement had none.
	Level *Level `json:"level,omitempty"`
	// HostTimestamp is the host receive time in nanoseconds since the
	// Unix epoch.
	HostTimestamp int64 `json:"hostTimestamp"`
	// Location is the statement's source location, or nil if the format
	// table carried no location info for it.
	Location *Location `json:"location,omitempty"`
}

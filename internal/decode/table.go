// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package decode turns the raw byte stream read from the target's log
// transport into discrete log frames.
//
// The target binary embeds a frame-format table in its .emlog ELF
// section: log statements are compiled down to a table index plus raw
// argument values, and the table carries the format string, severity
// and source location for each index. The table is parsed once per run;
// the stream decoder then interprets transport bytes against it.
package decode

import (
	"debug/elf"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/frame"
)

// FormatSection is the ELF section holding the frame-format table.
const FormatSection = ".emlog"

// ErrMissingFormatTable is returned by ParseTable if the binary carries
// no frame-format table.
var ErrMissingFormatTable = errors.New("binary carries no frame-format table")

// Encoding identifies the wire encoding of the frame stream.
type Encoding string

// Supported wire encodings.
const (
	// EncodingRzcobs delimits frame bodies with zero bytes. A corrupt
	// span can be skipped by seeking to the next delimiter.
	EncodingRzcobs Encoding = "rzcobs"
	// EncodingRaw writes frame bodies back to back. There is no way to
	// resynchronize after a corrupt span.
	EncodingRaw Encoding = "raw"
)

// CanRecover reports whether the encoding allows skipping a corrupt
// span and continuing with later frames.
func (e Encoding) CanRecover() bool {
	return e == EncodingRzcobs
}

// Entry describes one log statement in the format table.
type Entry struct {
	Index  uint64 `json:"index"`
	Format string `json:"format"`
	Level  string `json:"level,omitempty"`
	File   string `json:"file,omitempty"`
	Line   uint32 `json:"line,omitempty"`
	Module string `json:"module,omitempty"`
}

// Table is the frame-format table parsed from the target binary.
type Table struct {
	encoding Encoding
	entries  map[uint64]*Entry
}

// tableJSON is the on-disk layout of the .emlog section payload.
type tableJSON struct {
	Encoding Encoding `json:"encoding"`
	Entries  []*Entry `json:"entries"`
}

// ParseTable reads the frame-format table from the ELF binary at path.
func ParseTable(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read binary %s", path)
	}
	defer f.Close()

	sec := f.Section(FormatSection)
	if sec == nil {
		return nil, ErrMissingFormatTable
	}
	data, err := sec.Data()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s section", FormatSection)
	}
	if len(data) == 0 {
		return nil, ErrMissingFormatTable
	}
	return parseTableData(data)
}

func parseTableData(data []byte) (*Table, error) {
	var tj tableJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, errors.Wrap(err, "malformed frame-format table")
	}
	switch tj.Encoding {
	case EncodingRzcobs, EncodingRaw:
	default:
		return nil, errors.Errorf("frame-format table declares unknown encoding %q", tj.Encoding)
	}
	entries := make(map[uint64]*Entry, len(tj.Entries))
	for _, e := range tj.Entries {
		if e.Level != "" {
			if _, err := frame.ParseLevel(e.Level); err != nil {
				return nil, errors.Wrapf(err, "frame-format table entry %d", e.Index)
			}
		}
		entries[e.Index] = e
	}
	return &Table{encoding: tj.Encoding, entries: entries}, nil
}

// Encoding returns the wire encoding the table declares.
func (t *Table) Encoding() Encoding {
	return t.encoding
}

// entry returns the table entry for idx, or nil if the index is
// unknown.
func (t *Table) entry(idx uint64) *Entry {
	return t.entries[idx]
}

// location builds the frame location for a table entry, with the file
// path made relative to root when it resolves under it.
func (e *Entry) location(root string) *frame.Location {
	if e.File == "" {
		return nil
	}
	file := e.File
	if root != "" && filepath.IsAbs(file) {
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			file = rel
		}
	}
	return &frame.Location{
		File:       file,
		Line:       e.Line,
		ModulePath: parseModulePath(e.Module),
	}
}

// parseModulePath splits a "crate::mod::function" path into its parts.
// At least the crate and the function must be present.
func parseModulePath(path string) *frame.ModulePath {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "::")
	if len(parts) < 2 {
		return nil
	}
	return &frame.ModulePath{
		Crate:    parts[0],
		Modules:  parts[1 : len(parts)-1],
		Function: parts[len(parts)-1],
	}
}

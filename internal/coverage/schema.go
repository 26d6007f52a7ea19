// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package coverage interprets decoded log frames as a test run and
// aggregates the requirement coverage asserted by the firmware's tests.
package coverage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// SchemaVersion is the version written to emitted coverage schemas.
const SchemaVersion = "1"

// TestState describes the outcome of one test.
type TestState string

// Valid test states.
const (
	StatePassed  TestState = "passed"
	StateFailed  TestState = "failed"
	StateSkipped TestState = "skipped"
)

// CoveredFileTrace records the requirement IDs asserted as covered at
// one source line. ReqIDs is never empty and holds no duplicates.
type CoveredFileTrace struct {
	Line   uint32   `json:"line"`
	ReqIDs []string `json:"reqIds"`
}

// CoveredFile aggregates the coverage traces of one source file touched
// during a test.
type CoveredFile struct {
	Filepath      string             `json:"filepath"`
	CoveredTraces []CoveredFileTrace `json:"coveredTraces"`
}

// Test is the recorded outcome of one test function.
type Test struct {
	// Name is the fully qualified test function name.
	Name     string    `json:"name"`
	Filepath string    `json:"filepath"`
	Line     uint32    `json:"line"`
	State    TestState `json:"state"`
	// SkipReason is only set for skipped tests, and may be empty even
	// then.
	SkipReason string `json:"skipReason,omitempty"`
	// CoveredFiles lists the files touched by coverage markers during
	// the test, in first-touched order of discovery.
	CoveredFiles []CoveredFile `json:"coveredFiles"`
}

// TestRun is the result of executing one firmware binary's tests.
type TestRun struct {
	Name string    `json:"name"`
	Date time.Time `json:"date"`
	// Meta carries caller-supplied metadata linked with the run.
	Meta json.RawMessage `json:"meta,omitempty"`
	// Logs optionally holds the raw serialized frame log.
	Logs      string `json:"logs,omitempty"`
	Tests     []Test `json:"tests"`
	NrOfTests uint32 `json:"nrOfTests"`
}

// Schema is the externally persisted coverage unit. Schemas from
// multiple runs merge by concatenating their test runs.
type Schema struct {
	Version  string    `json:"version,omitempty"`
	TestRuns []TestRun `json:"testRuns"`
}

// ReadSchemaFile reads and unmarshals a coverage schema from path.
func ReadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read coverage file %s", path)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "failed to parse coverage file %s", path)
	}
	return &s, nil
}

// WriteFile marshals the schema and writes it to path atomically, via a
// temporary file renamed into place.
func (s *Schema) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal coverage schema")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary coverage file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write coverage file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write coverage file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to move coverage file into place")
	}
	return nil
}

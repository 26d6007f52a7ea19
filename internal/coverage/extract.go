// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/logging"
)

// terminalText is the frame the on-target test harness emits after the
// last test completed successfully.
const terminalText = "all tests passed!"

// ErrNoFrames is returned by Extract when the frame sequence is empty.
var ErrNoFrames = errors.New("no log frames captured")

// ErrBadTimestamp is returned by Extract when the first frame's host
// timestamp cannot be interpreted as a valid instant.
var ErrBadTimestamp = errors.New("first frame carries an invalid host timestamp")

// MissingLocationError is returned by Extract when a test-marker frame
// lacks the source location needed to identify the test.
type MissingLocationError struct {
	Text string
}

func (e *MissingLocationError) Error() string {
	return fmt.Sprintf("missing location information for test marker %q", e.Text)
}

// MarkerSequenceError is returned by Extract when the test markers do
// not form a well-ordered sequence. Real hardware can emit malformed
// sequences, so this is a structured error rather than an assertion.
type MarkerSequenceError struct {
	Text   string
	Reason string
}

func (e *MarkerSequenceError) Error() string {
	return fmt.Sprintf("malformed test-marker sequence at %q: %s", e.Text, e.Reason)
}

// Extractor folds an ordered frame sequence into a test run. Its
// matchers are constructed explicitly and owned per instance; there is
// no process-wide matcher state.
type Extractor struct {
	testMarker     *regexp.Regexp
	coverageMarker *regexp.Regexp
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		// e.g. "(1/4) running `battery::charge_limits`..."
		testMarker: regexp.MustCompile("^\\((\\d+)/(\\d+)\\) (running|ignoring) `(.+)`\\.\\.\\."),
		// e.g. `covers req="SW.1" file="src/adc.rs" line=87`
		coverageMarker: regexp.MustCompile(`req="([^"]+)"\s+file="([^"]+)"\s+line=(\d+)`),
	}
}

// accumulator collects the requirement IDs covered per file and line
// during one test's open interval.
type accumulator map[string]map[uint32]map[string]struct{}

func (a accumulator) add(file string, line uint32, reqID string) {
	lines, ok := a[file]
	if !ok {
		lines = make(map[uint32]map[string]struct{})
		a[file] = lines
	}
	reqs, ok := lines[line]
	if !ok {
		reqs = make(map[string]struct{})
		lines[line] = reqs
	}
	reqs[reqID] = struct{}{}
}

// flush converts the accumulated coverage into CoveredFile records,
// ordered by file path and line for deterministic output.
func (a accumulator) flush() []CoveredFile {
	files := make([]string, 0, len(a))
	for file := range a {
		files = append(files, file)
	}
	sort.Strings(files)

	covered := make([]CoveredFile, 0, len(files))
	for _, file := range files {
		lines := make([]uint32, 0, len(a[file]))
		for line := range a[file] {
			lines = append(lines, line)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })

		traces := make([]CoveredFileTrace, 0, len(lines))
		for _, line := range lines {
			reqs := make([]string, 0, len(a[file][line]))
			for req := range a[file][line] {
				reqs = append(reqs, req)
			}
			sort.Strings(reqs)
			traces = append(traces, CoveredFileTrace{Line: line, ReqIDs: reqs})
		}
		covered = append(covered, CoveredFile{Filepath: file, CoveredTraces: traces})
	}
	return covered
}

// extraction is the mutable state of one Extract call.
type extraction struct {
	run     TestRun
	current *Test
	acc     accumulator
	markers uint32 // number of test-marker frames processed
}

// finalize closes the currently open test as passed and flushes its
// accumulated coverage into the run.
func (x *extraction) finalize() {
	if x.current == nil {
		return
	}
	x.current.State = StatePassed
	x.current.CoveredFiles = x.acc.flush()
	x.run.Tests = append(x.run.Tests, *x.current)
	x.current = nil
	x.acc = nil
}

// Extract interprets frames as one test run named runName. meta and
// logs are attached to the run record unmodified.
func (e *Extractor) Extract(ctx context.Context, frames []*frame.Frame, runName string, meta json.RawMessage, logs string) (*Schema, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	ts := frames[0].HostTimestamp
	if ts <= 0 {
		return nil, errors.Wrapf(ErrBadTimestamp, "timestamp %d", ts)
	}

	x := &extraction{
		run: TestRun{
			Name: runName,
			Date: time.Unix(0, ts).UTC(),
			Meta: meta,
			Logs: logs,
		},
	}
	dangling := 0

	for _, f := range frames {
		switch {
		case e.testMarker.MatchString(f.Text):
			if err := x.handleMarker(e.testMarker.FindStringSubmatch(f.Text), f); err != nil {
				return nil, err
			}
		case e.coverageMarker.MatchString(f.Text):
			m := e.coverageMarker.FindStringSubmatch(f.Text)
			line, err := strconv.ParseUint(m[3], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "bad line number in coverage marker %q", f.Text)
			}
			if x.current == nil {
				// Markers outside a test's open interval carry no
				// attribution and are dropped.
				dangling++
				continue
			}
			x.acc.add(m[2], uint32(line), m[1])
		case f.Text == terminalText:
			x.finalize()
		}
	}

	if dangling > 0 {
		logging.Debugf(ctx, "Discarded %d coverage marker(s) observed outside a running test", dangling)
	}

	return &Schema{Version: SchemaVersion, TestRuns: []TestRun{x.run}}, nil
}

// handleMarker processes one matched test-marker frame. m holds the
// submatches: index, declared total, state and function name.
func (x *extraction) handleMarker(m []string, f *frame.Frame) error {
	idx, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return &MarkerSequenceError{Text: f.Text, Reason: "test index is not a number"}
	}
	total, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return &MarkerSequenceError{Text: f.Text, Reason: "test count is not a number"}
	}

	if f.Location == nil || f.Location.File == "" || f.Location.ModulePath == nil {
		return &MissingLocationError{Text: f.Text}
	}

	x.finalize()

	// The declared total is set once by the first marker; later markers
	// must agree with it and arrive in order.
	if x.markers == 0 {
		x.run.NrOfTests = uint32(total)
	} else if uint32(total) != x.run.NrOfTests {
		return &MarkerSequenceError{
			Text:   f.Text,
			Reason: fmt.Sprintf("declared test count %d does not match initial count %d", total, x.run.NrOfTests),
		}
	}
	if uint32(idx) != x.markers+1 {
		return &MarkerSequenceError{
			Text:   f.Text,
			Reason: fmt.Sprintf("test index %d out of order, expected %d", idx, x.markers+1),
		}
	}
	x.markers++

	mp := f.Location.ModulePath
	name := mp.Crate
	if len(mp.Modules) > 0 {
		name += "::" + strings.Join(mp.Modules, "::")
	}
	name += "::" + m[4]

	test := Test{
		Name:     name,
		Filepath: f.Location.File,
		Line:     f.Location.Line,
	}
	switch m[3] {
	case "running":
		// Provisionally failed until the next marker or the terminal
		// frame proves the test completed.
		test.State = StateFailed
		x.current = &test
		x.acc = make(accumulator)
	case "ignoring":
		test.State = StateSkipped
		x.run.Tests = append(x.run.Tests, test)
	}
	return nil
}

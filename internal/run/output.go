// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/coverage"
	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/logging"
)

// Output file names within the .embedded directory.
const (
	// FramesLogName receives the captured frames, one JSON object per
	// line in capture order.
	FramesLogName = "frames.jsonl"
	// CoverageName receives the extracted coverage schema.
	CoverageName = "coverage.json"
)

// writeFramesLog writes the captured frames to path as JSON lines.
func writeFramesLog(path string, frames []*frame.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create frame log %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, fr := range frames {
		if err := enc.Encode(fr); err != nil {
			return errors.Wrapf(err, "failed to write frame log %s", path)
		}
	}
	return f.Close()
}

// renderFrames renders the frames the way they are echoed to the
// console, one line per frame with severity and source location.
func renderFrames(frames []*frame.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		level := "     "
		if f.Level != nil {
			level = fmt.Sprintf("%-5s", f.Level.String())
		}
		b.WriteString(level)
		b.WriteString(" ")
		b.WriteString(f.Text)
		if loc := f.Location; loc != nil {
			fmt.Fprintf(&b, " (%s:%d", loc.File, loc.Line)
			if mp := loc.ModulePath; mp != nil {
				b.WriteString(" in ")
				b.WriteString(mp.Crate)
				for _, m := range mp.Modules {
					b.WriteString("::")
					b.WriteString(m)
				}
				b.WriteString("::")
				b.WriteString(mp.Function)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// logFrames echoes the captured frames through the attached logger.
func logFrames(ctx context.Context, frames []*frame.Frame) {
	for _, line := range strings.Split(strings.TrimRight(renderFrames(frames), "\n"), "\n") {
		if line != "" {
			logging.Info(ctx, logging.ReplaceInvalidUTF8(line))
		}
	}
}

// writeCoverage persists the extracted schema and registers it in the
// coverage index for later collection. Runs without any recorded test
// produce no coverage file.
func writeCoverage(ctx context.Context, schema *coverage.Schema, outPath, indexPath string) error {
	tests := 0
	for _, run := range schema.TestRuns {
		tests += len(run.Tests)
	}
	if tests == 0 {
		logging.Info(ctx, "No tests observed; not writing coverage")
		return nil
	}

	if err := schema.WriteFile(outPath); err != nil {
		return err
	}
	abs, err := filepath.Abs(outPath)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve coverage path %s", outPath)
	}
	if err := appendIndex(indexPath, abs); err != nil {
		return err
	}
	logging.Infof(ctx, "Wrote coverage for %d test(s) to %s", tests, outPath)
	return nil
}

// appendIndex appends one coverage file path to the index.
func appendIndex(indexPath, coveragePath string) error {
	f, err := os.OpenFile(indexPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open coverage index %s", indexPath)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, coveragePath); err != nil {
		return errors.Wrapf(err, "failed to append to coverage index %s", indexPath)
	}
	return f.Close()
}

// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package coverage

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/logging"
)

// Collect merges the coverage schemas listed in the index file at
// indexPath into the schema file at outputPath and clears the index, so
// the next collection only picks up newly produced runs.
//
// A missing index is not an error; there is simply nothing to collect.
// Index entries pointing at vanished files are skipped with a log.
func Collect(ctx context.Context, indexPath, outputPath string) error {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Info(ctx, "No coverage to collect")
			return nil
		}
		return errors.Wrapf(err, "failed to read coverage index %s", indexPath)
	}

	merged := &Schema{Version: SchemaVersion}
	for _, line := range strings.Split(string(data), "\n") {
		path := strings.TrimSpace(line)
		if path == "" {
			continue
		}
		s, err := ReadSchemaFile(path)
		if err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				logging.Errorf(ctx, "Missing coverage file %s", path)
				continue
			}
			return err
		}
		merged.TestRuns = append(merged.TestRuns, s.TestRuns...)
	}

	if len(merged.TestRuns) == 0 {
		logging.Info(ctx, "No coverage found")
		return nil
	}

	// Runs already collected into the output file are kept.
	if existing, err := ReadSchemaFile(outputPath); err == nil {
		merged.TestRuns = append(existing.TestRuns, merged.TestRuns...)
	} else if !os.IsNotExist(errors.Cause(err)) {
		return err
	}

	if err := merged.WriteFile(outputPath); err != nil {
		return err
	}
	logging.Infof(ctx, "Collected %d test run(s) into %s", len(merged.TestRuns), outputPath)

	return errors.Wrap(os.Remove(indexPath), "failed to clear coverage index")
}

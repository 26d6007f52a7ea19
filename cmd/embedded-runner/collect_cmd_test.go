// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/coverage"
)

// chdirTempRoot switches into a fresh build root so config.Load resolves
// against it.
func chdirTempRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, config.EmbeddedDirName), 0755); err != nil {
		t.Fatal("Failed to create .embedded: ", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal("Failed to get working directory: ", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal("Failed to change directory: ", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	return root
}

func execute(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal("Failed to parse flags: ", err)
	}
	return cmd.Execute(context.Background(), fs, false)
}

func TestCollectCmdDefaultsOutput(t *testing.T) {
	root := chdirTempRoot(t)

	// Register one coverage file in the index.
	covPath := filepath.Join(root, "run-coverage.json")
	s := &coverage.Schema{
		Version:  coverage.SchemaVersion,
		TestRuns: []coverage.TestRun{{Name: "fw"}},
	}
	if err := s.WriteFile(covPath); err != nil {
		t.Fatal("Failed to write coverage: ", err)
	}
	index := filepath.Join(root, config.EmbeddedDirName, config.IndexName)
	if err := os.WriteFile(index, []byte(covPath+"\n"), 0644); err != nil {
		t.Fatal("Failed to write index: ", err)
	}

	if status := execute(t, &collectCmd{}); status != subcommands.ExitSuccess {
		t.Fatalf("collect without output arg returned %v; want success", status)
	}
	merged, err := coverage.ReadSchemaFile(filepath.Join(root, defaultCollectOutput))
	if err != nil {
		t.Fatal("Default output file not written: ", err)
	}
	if len(merged.TestRuns) != 1 || merged.TestRuns[0].Name != "fw" {
		t.Errorf("merged runs = %+v; want the registered run", merged.TestRuns)
	}
}

func TestCollectCmdNothingToCollect(t *testing.T) {
	root := chdirTempRoot(t)

	if status := execute(t, &collectCmd{}); status != subcommands.ExitSuccess {
		t.Fatalf("collect with empty index returned %v; want success", status)
	}
	if _, err := os.Stat(filepath.Join(root, defaultCollectOutput)); !os.IsNotExist(err) {
		t.Error("collect wrote an output file with nothing to collect")
	}
}

func TestCollectCmdTooManyArgs(t *testing.T) {
	chdirTempRoot(t)

	if status := execute(t, &collectCmd{}, "a.json", "b.json"); status != subcommands.ExitUsageError {
		t.Errorf("collect with two output args returned %v; want usage error", status)
	}
}

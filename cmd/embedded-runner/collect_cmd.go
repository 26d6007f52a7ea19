// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/coverage"
	"github.com/mhatzl/embedded-runner/internal/logging"
)

// collectCmd implements subcommands.Command to merge the coverage files
// produced since the last collection into one schema.
type collectCmd struct {
	cfgPath string
}

var _ = subcommands.Command(&collectCmd{})

// defaultCollectOutput is the merged coverage file written when no
// output path is given.
const defaultCollectOutput = "coverage.json"

func (*collectCmd) Name() string     { return "collect" }
func (*collectCmd) Synopsis() string { return "merge coverage from previous runs" }
func (*collectCmd) Usage() string {
	return `Usage: collect [flag]... [output]

Merge the coverage files registered since the last collection into the
output file (default: coverage.json) and clear the index.

`
}

func (c *collectCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.cfgPath, "runner-cfg", "", "runner config file (default: .embedded/runner.yaml under the build root)")
}

func (c *collectCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) > 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	output := defaultCollectOutput
	if len(f.Args()) == 1 {
		output = f.Args()[0]
	}
	verbose := false
	if len(args) > 0 {
		verbose, _ = args[0].(bool)
	}

	cfg, err := config.Load(ctx, c.cfgPath, verbose)
	if err != nil {
		logging.Errorf(ctx, "Failed to load config: %v", err)
		return subcommands.ExitFailure
	}
	if err := coverage.Collect(ctx, cfg.IndexPath(), output); err != nil {
		logging.Errorf(ctx, "Collection failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

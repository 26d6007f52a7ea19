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
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/internal/run"
)

// runCmd implements subcommands.Command to run a firmware binary's
// tests on the attached target.
type runCmd struct {
	cfgPath string
	opts    run.Options
}

var _ = subcommands.Command(&runCmd{})

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a firmware binary's tests" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]... <binary>

Run the firmware binary on the attached target, capture its log frames
and extract the asserted requirement coverage.

`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.cfgPath, "runner-cfg", "", "runner config file (default: .embedded/runner.yaml under the build root)")
	f.StringVar(&r.opts.RunName, "run-name", "", "name of the emitted test run (default: binary path relative to the build root)")
	f.StringVar(&r.opts.OutputDir, "output-dir", "", "directory receiving the frame log and coverage file (default: .embedded)")
	f.StringVar(&r.opts.MetaPath, "meta", "", "JSON metadata file linked with the test run (default: .embedded/meta.json)")
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) != 1 {
		fmt.Fprint(os.Stderr, r.Usage())
		return subcommands.ExitUsageError
	}
	verbose := false
	if len(args) > 0 {
		verbose, _ = args[0].(bool)
	}

	cfg, err := config.Load(ctx, r.cfgPath, verbose)
	if err != nil {
		logging.Errorf(ctx, "Failed to load config: %v", err)
		return subcommands.ExitFailure
	}
	if err := run.Run(ctx, cfg, f.Args()[0], r.opts); err != nil {
		logging.Errorf(ctx, "Run failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

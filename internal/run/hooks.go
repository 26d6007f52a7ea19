// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/shutil"
)

// runHook executes a pre- or post-runner hook from the build root. The
// binary path is appended to the configured arguments so hooks can act
// on the binary under test. A hook failing is fatal for the run.
func runHook(ctx context.Context, hook *config.Hook, binary, workDir string) error {
	if hook == nil {
		return nil
	}
	args := append(append([]string(nil), hook.Args...), binary)
	cmd := exec.Command(hook.Name, args...)
	cmd.Dir = workDir

	logging.Infof(ctx, "Running hook %s", shutil.EscapeSlice(cmd.Args))
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logging.Info(ctx, logging.ReplaceInvalidUTF8(string(out)))
	}
	if err != nil {
		return errors.Wrapf(err, "hook %s failed", hook.Name)
	}
	return nil
}

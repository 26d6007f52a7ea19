// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package run orchestrates one execution of a firmware binary: it
// prepares the debug-session script, supervises the session, captures
// the target's log frames and extracts requirement coverage.
package run

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/coverage"
	"github.com/mhatzl/embedded-runner/internal/decode"
	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/internal/oneshot"
	"github.com/mhatzl/embedded-runner/internal/session"
	"github.com/mhatzl/embedded-runner/internal/symbols"
)

// Options are the per-invocation overrides of a run. The zero value
// selects the defaults documented on each field.
type Options struct {
	// RunName names the emitted test run. Defaults to the binary's path
	// relative to the build root.
	RunName string
	// OutputDir receives the frame log and the coverage file. Defaults
	// to the .embedded directory.
	OutputDir string
	// MetaPath is the metadata JSON file linked with the run. Defaults
	// to .embedded/meta.json; the default may be absent, an explicitly
	// given file may not.
	MetaPath string
}

// Run executes the firmware binary's tests once and writes the frame
// log and the extracted coverage to the output directory.
func Run(ctx context.Context, cfg *config.Config, binary string, opts Options) error {
	binary, err := filepath.Abs(binary)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve binary path %q", binary)
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = cfg.EmbeddedDir
	} else if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", outputDir)
	}

	sym, err := symbols.Locate(binary, symbols.ControlBlockSymbol)
	if err != nil {
		return errors.Wrap(err, "failed to locate the log transport control block")
	}
	table, err := decode.ParseTable(binary)
	if err != nil {
		return err
	}

	script, err := session.GenerateScript(cfg, binary, sym)
	if err != nil {
		return err
	}
	scriptPath := filepath.Join(cfg.EmbeddedDir, session.ScriptName)
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return errors.Wrapf(err, "failed to write session script %s", scriptPath)
	}

	if err := runHook(ctx, cfg.Runner.PreRunner, binary, cfg.RootDir); err != nil {
		return err
	}

	frames, err := captureFrames(ctx, cfg, table, scriptPath, binary)
	if err != nil {
		return err
	}
	logFrames(ctx, frames)

	if err := runHook(ctx, cfg.Runner.PostRunner, binary, cfg.RootDir); err != nil {
		return err
	}

	framesPath := filepath.Join(outputDir, FramesLogName)
	if err := writeFramesLog(framesPath, frames); err != nil {
		return err
	}
	logging.Infof(ctx, "Wrote %d frame(s) to %s", len(frames), framesPath)

	meta, err := loadMeta(cfg, binary, opts.MetaPath)
	if err != nil {
		return err
	}
	runName := opts.RunName
	if runName == "" {
		runName, err = filepath.Rel(cfg.RootDir, binary)
		if err != nil {
			runName = filepath.Base(binary)
		}
	}
	schema, err := coverage.NewExtractor().Extract(ctx, frames, runName, meta, renderFrames(frames))
	if err != nil {
		return errors.Wrap(err, "failed to extract coverage")
	}
	return writeCoverage(ctx, schema, filepath.Join(outputDir, CoverageName), cfg.IndexPath())
}

// captureFrames drives the debug session and the frame capture: it
// starts the session, waits for the log transport, reads frames while
// the session runs and stops the capture once the session exits.
func captureFrames(ctx context.Context, cfg *config.Config, table *decode.Table, scriptPath, binary string) ([]*frame.Frame, error) {
	sess, err := session.Start(ctx, &session.Config{
		GDB:     cfg.Runner.GDB,
		Script:  scriptPath,
		Binary:  binary,
		WorkDir: cfg.RootDir,
		Output:  os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Kill(ctx)

	setupTimeout := time.Duration(cfg.Runner.SetupTimeout)
	if err := sess.WaitReady(ctx, setupTimeout); err != nil {
		return nil, err
	}
	conn, err := session.Connect(ctx, cfg.Runner.RTTPort, setupTimeout, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	token := oneshot.NewToken()
	dec := decode.NewStreamDecoder(table, cfg.RootDir)

	var frames []*frame.Frame
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fs, err := decode.ReadFrames(gctx, conn, dec, token)
		frames = fs
		return err
	})

	state, werr := sess.Wait(ctx, time.Duration(cfg.Runner.RunTimeout))
	// Stop the capture before judging the session so the frames read so
	// far survive a session failure.
	token.Cancel()
	if err := g.Wait(); err != nil {
		return frames, err
	}
	if werr != nil {
		return frames, werr
	}
	if !state.Success() {
		logging.Warnf(ctx, "Debug session exited with status %d", state.ExitCode())
	}
	return frames, nil
}

// loadMeta builds the metadata attached to the run record. User-provided
// metadata is preserved; the executed binary's path is always recorded
// under the "binary" key. The default metadata file may be absent; an
// explicitly configured one may not.
func loadMeta(cfg *config.Config, binary, metaPath string) (json.RawMessage, error) {
	meta := make(map[string]json.RawMessage)
	explicit := metaPath != ""
	if !explicit {
		metaPath = filepath.Join(cfg.EmbeddedDir, config.MetaName)
	}
	data, err := os.ReadFile(metaPath)
	switch {
	case os.IsNotExist(err) && !explicit:
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read metadata %s", metaPath)
	default:
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, errors.Wrapf(err, "failed to parse metadata %s", metaPath)
		}
	}

	rel, err := filepath.Rel(cfg.RootDir, binary)
	if err != nil {
		rel = binary
	}
	bin, err := json.Marshal(filepath.ToSlash(rel))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	meta["binary"] = bin

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	return raw, nil
}

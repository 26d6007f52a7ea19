// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads and resolves the runner configuration.
package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/mhatzl/embedded-runner/internal/logging"
)

const (
	// EmbeddedDirName is the directory under the build root holding
	// runner state: config, generated scripts and coverage output.
	EmbeddedDirName = ".embedded"
	// RunnerConfigName is the runner config file within EmbeddedDirName.
	RunnerConfigName = "runner.yaml"
	// IndexName is the file within EmbeddedDirName listing coverage
	// files produced since the last collection.
	IndexName = "coverage_index.txt"
	// MetaName is the default metadata file within EmbeddedDirName.
	MetaName = "meta.json"
)

// Defaults for optional runner config fields.
const (
	DefaultGDB          = "arm-none-eabi-gdb"
	DefaultRTTPort      = 19021
	DefaultSetupTimeout = 12 * time.Second
	DefaultRunTimeout   = 10 * time.Minute
)

// Duration wraps time.Duration for YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Hook is an external command executed before or after a run.
type Hook struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// Runner is the on-disk runner configuration.
type Runner struct {
	// GDB is the debugger executable to spawn.
	GDB string `yaml:"gdb"`
	// Remote is a direct remote-connection string ("host:port"). If it
	// is empty, the OpenOCD pipe bridge is used instead.
	Remote string `yaml:"remote"`
	// OpenOCDCfg is the OpenOCD configuration file for the bridge.
	OpenOCDCfg string `yaml:"openocd-cfg"`
	// GDBLogfile receives the debug tool's log output.
	GDBLogfile string `yaml:"gdb-logfile"`
	// Load is the template for the flash/load directive. It may refer
	// to {{.BinaryDir}}, {{.BinaryNoExt}} and {{.BinaryPath}}.
	Load string `yaml:"load"`
	// RTTPort is the local port of the log transport server.
	RTTPort int `yaml:"rtt-port"`
	// RTTChannel is the up-channel to serve.
	RTTChannel int `yaml:"rtt-channel"`
	// PreExit is an optional directive executed right before quitting
	// the debug session.
	PreExit string `yaml:"pre-exit"`
	// PreRunner and PostRunner run around the debug session, from the
	// build root, with the binary path appended to their arguments.
	PreRunner  *Hook `yaml:"pre-runner"`
	PostRunner *Hook `yaml:"post-runner"`
	// SetupTimeout bounds session readiness and transport connection.
	SetupTimeout Duration `yaml:"setup-timeout"`
	// RunTimeout bounds the whole debug-session execution.
	RunTimeout Duration `yaml:"run-timeout"`
}

// Config is the fully resolved configuration of one invocation.
type Config struct {
	Runner      Runner
	Platform    Platform
	RootDir     string
	EmbeddedDir string
	Verbose     bool
}

// applyDefaults fills unset optional fields.
func (r *Runner) applyDefaults() {
	if r.GDB == "" {
		r.GDB = DefaultGDB
	}
	if r.RTTPort == 0 {
		r.RTTPort = DefaultRTTPort
	}
	if r.SetupTimeout == 0 {
		r.SetupTimeout = Duration(DefaultSetupTimeout)
	}
	if r.RunTimeout == 0 {
		r.RunTimeout = Duration(DefaultRunTimeout)
	}
}

// Load resolves the configuration: it locates the build root, ensures
// the .embedded directory exists and reads the runner config from
// cfgPath, or from its default location if cfgPath is empty. A missing
// config file yields the defaults with a warning.
func Load(ctx context.Context, cfgPath string, verbose bool) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	root := FindRoot(wd)
	embeddedDir := filepath.Join(root, EmbeddedDirName)
	if err := os.MkdirAll(embeddedDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", embeddedDir)
	}

	if cfgPath == "" {
		cfgPath = filepath.Join(embeddedDir, RunnerConfigName)
	}
	var runner Runner
	data, err := os.ReadFile(cfgPath)
	switch {
	case os.IsNotExist(err):
		logging.Warnf(ctx, "No runner config found at %s; using defaults", cfgPath)
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read runner config %s", cfgPath)
	default:
		if err := yaml.UnmarshalStrict(data, &runner); err != nil {
			return nil, errors.Wrapf(err, "failed to parse runner config %s", cfgPath)
		}
	}
	runner.applyDefaults()

	return &Config{
		Runner:      runner,
		Platform:    CurrentPlatform(),
		RootDir:     root,
		EmbeddedDir: embeddedDir,
		Verbose:     verbose,
	}, nil
}

// IndexPath returns the path of the coverage index file.
func (c *Config) IndexPath() string {
	return filepath.Join(c.EmbeddedDir, IndexName)
}

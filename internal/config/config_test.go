// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v2"
)

func TestRunnerUnmarshal(t *testing.T) {
	const doc = `
gdb: gdb-multiarch
openocd-cfg: .embedded/openocd.cfg
load: |
  load "{{.BinaryNoExt}}.ihex"
rtt-port: 19022
pre-runner:
  name: probe-check
  args: ["--strict"]
setup-timeout: 30s
`
	var r Runner
	if err := yaml.UnmarshalStrict([]byte(doc), &r); err != nil {
		t.Fatal("Unmarshal failed: ", err)
	}
	r.applyDefaults()

	if r.GDB != "gdb-multiarch" {
		t.Errorf("GDB = %q; want gdb-multiarch", r.GDB)
	}
	if r.RTTPort != 19022 {
		t.Errorf("RTTPort = %d; want 19022", r.RTTPort)
	}
	if time.Duration(r.SetupTimeout) != 30*time.Second {
		t.Errorf("SetupTimeout = %v; want 30s", time.Duration(r.SetupTimeout))
	}
	if time.Duration(r.RunTimeout) != DefaultRunTimeout {
		t.Errorf("RunTimeout = %v; want default %v", time.Duration(r.RunTimeout), DefaultRunTimeout)
	}
	want := &Hook{Name: "probe-check", Args: []string{"--strict"}}
	if diff := cmp.Diff(r.PreRunner, want); diff != "" {
		t.Errorf("PreRunner mismatch (-got +want):\n%s", diff)
	}
}

func TestRunnerDefaults(t *testing.T) {
	var r Runner
	r.applyDefaults()
	if r.GDB != DefaultGDB {
		t.Errorf("GDB = %q; want %q", r.GDB, DefaultGDB)
	}
	if r.RTTPort != DefaultRTTPort {
		t.Errorf("RTTPort = %d; want %d", r.RTTPort, DefaultRTTPort)
	}
	if time.Duration(r.SetupTimeout) != DefaultSetupTimeout {
		t.Errorf("SetupTimeout = %v; want %v", time.Duration(r.SetupTimeout), DefaultSetupTimeout)
	}
}

func TestFindRoot(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "fw", "src")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, EmbeddedDirName), 0755); err != nil {
		t.Fatal(err)
	}

	if got := FindRoot(nested); got != dir {
		t.Errorf("FindRoot(%q) = %q; want %q", nested, got, dir)
	}
}

func TestFindRootGitFallback(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "fw")
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if got := FindRoot(nested); got != dir {
		t.Errorf("FindRoot(%q) = %q; want %q", nested, got, dir)
	}
}

func TestFindRootFallsBackToDir(t *testing.T) {
	dir := t.TempDir()
	if got := FindRoot(dir); got != dir {
		t.Errorf("FindRoot(%q) = %q; want the directory itself", dir, got)
	}
}

func TestPlatformFor(t *testing.T) {
	if got := platformFor("linux").SleepCommand; got != "sleep" {
		t.Errorf("linux sleep command = %q; want sleep", got)
	}
	if got := platformFor("windows").SleepCommand; got != "timeout" {
		t.Errorf("windows sleep command = %q; want timeout", got)
	}
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var r Runner
	if err := yaml.UnmarshalStrict([]byte("setup-timeout: fast"), &r); err == nil {
		t.Error("Unmarshal unexpectedly accepted an invalid duration")
	}
}

// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package symbols_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mhatzl/embedded-runner/internal/elftest"
	"github.com/mhatzl/embedded-runner/internal/symbols"
)

func writeBinary(t *testing.T, b []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firmware.elf")
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal("Failed to write test binary: ", err)
	}
	return path
}

func TestLocate(t *testing.T) {
	path := writeBinary(t, elftest.Build([]elftest.Sym{
		{Name: "main", Value: 0x100, Size: 32},
		{Name: symbols.ControlBlockSymbol, Value: 0x20000000, Size: 168},
	}, nil))

	got, err := symbols.Locate(path, symbols.ControlBlockSymbol)
	if err != nil {
		t.Fatal("Locate failed: ", err)
	}
	want := symbols.Symbol{Address: 0x20000000, Size: 168}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Locate returned unexpected symbol (-got +want):\n%s", diff)
	}
}

func TestLocateNotFound(t *testing.T) {
	path := writeBinary(t, elftest.Build([]elftest.Sym{{Name: "main", Value: 0x100, Size: 32}}, nil))

	if _, err := symbols.Locate(path, symbols.ControlBlockSymbol); err == nil {
		t.Fatal("Locate unexpectedly succeeded for missing symbol")
	} else if _, ok := err.(*symbols.NotFoundError); !ok {
		t.Errorf("Locate returned %v; want *symbols.NotFoundError", err)
	}
}

func TestLocateNoSymbolTable(t *testing.T) {
	path := writeBinary(t, elftest.Build(nil, nil))

	if _, err := symbols.Locate(path, symbols.ControlBlockSymbol); err == nil {
		t.Fatal("Locate unexpectedly succeeded for binary without symbols")
	}
}

func TestLocateUnreadable(t *testing.T) {
	if _, err := symbols.Locate(filepath.Join(t.TempDir(), "nonexistent.elf"), symbols.ControlBlockSymbol); err == nil {
		t.Fatal("Locate unexpectedly succeeded for missing file")
	}
}

func TestLocateMalformed(t *testing.T) {
	path := writeBinary(t, []byte("not an elf binary"))

	if _, err := symbols.Locate(path, symbols.ControlBlockSymbol); err == nil {
		t.Fatal("Locate unexpectedly succeeded for malformed binary")
	}
}

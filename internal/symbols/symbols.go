// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package symbols looks up symbols in the target binary's ELF symbol
// table. The runner uses it to find the RTT control block the debug
// tool needs for log transport setup.
package symbols

import (
	"debug/elf"
	"fmt"

	"github.com/pkg/errors"
)

// ControlBlockSymbol is the name of the symbol marking the RTT control
// block in the target binary.
const ControlBlockSymbol = "_SEGGER_RTT"

// Symbol describes one located symbol.
type Symbol struct {
	Address uint64
	Size    uint64
}

// NotFoundError is returned by Locate if the binary carries no symbol
// with the requested name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not found in binary", e.Name)
}

// Locate reads the ELF binary at path and returns the address and size
// of the first symbol exactly matching name.
func Locate(path, name string) (Symbol, error) {
	f, err := elf.Open(path)
	if err != nil {
		return Symbol{}, errors.Wrapf(err, "failed to read binary %s", path)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return Symbol{}, &NotFoundError{Name: name}
		}
		return Symbol{}, errors.Wrapf(err, "failed to parse symbol table of %s", path)
	}
	for _, sym := range syms {
		if sym.Name == name {
			return Symbol{Address: sym.Value, Size: sym.Size}, nil
		}
	}
	return Symbol{}, &NotFoundError{Name: name}
}

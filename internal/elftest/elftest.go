// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package elftest builds minimal ELF binaries for unit tests.
// Production code never imports this package.
package elftest

import (
	"bytes"
	"encoding/binary"
)

// Sym describes a symbol to place in the built binary's symbol table.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
}

// Section describes an extra section to place in the built binary.
type Section struct {
	Name string
	Data []byte
}

const (
	ehSize      = 64 // ELF64 header size
	shEntSize   = 64 // ELF64 section header size
	symEntSize  = 24 // ELF64 symbol entry size
	shtNull     = 0
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
)

// strtab accumulates a string table, mapping names to offsets.
type strtab struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStrtab() *strtab {
	st := &strtab{offsets: make(map[string]uint32)}
	st.buf.WriteByte(0)
	return st
}

func (st *strtab) add(name string) uint32 {
	if off, ok := st.offsets[name]; ok {
		return off
	}
	off := uint32(st.buf.Len())
	st.buf.WriteString(name)
	st.buf.WriteByte(0)
	st.offsets[name] = off
	return off
}

type sectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// Build assembles a little-endian ELF64 binary containing the given
// symbols and extra sections. The result parses with debug/elf.
func Build(syms []Sym, extra []Section) []byte {
	shstr := newStrtab()
	str := newStrtab()

	// Symbol table: leading null entry, then one entry per symbol.
	var symtab bytes.Buffer
	symtab.Write(make([]byte, symEntSize))
	for _, s := range syms {
		nameOff := str.add(s.Name)
		binary.Write(&symtab, binary.LittleEndian, nameOff)
		symtab.WriteByte(0x10) // STB_GLOBAL, STT_NOTYPE
		symtab.WriteByte(0)    // st_other
		binary.Write(&symtab, binary.LittleEndian, uint16(1))
		binary.Write(&symtab, binary.LittleEndian, s.Value)
		binary.Write(&symtab, binary.LittleEndian, s.Size)
	}

	// Section layout: NULL, .shstrtab, .strtab, .symtab, extras.
	headers := []sectionHeader{{}}
	headers = append(headers,
		sectionHeader{Name: shstr.add(".shstrtab"), Type: shtStrtab, Addralign: 1},
		sectionHeader{Name: shstr.add(".strtab"), Type: shtStrtab, Addralign: 1},
		sectionHeader{Name: shstr.add(".symtab"), Type: shtSymtab, Link: 2, Info: 1, Addralign: 8, Entsize: symEntSize},
	)
	for _, sec := range extra {
		headers = append(headers, sectionHeader{Name: shstr.add(sec.Name), Type: shtProgbits, Addralign: 1})
	}

	datas := [][]byte{nil, shstr.buf.Bytes(), str.buf.Bytes(), symtab.Bytes()}
	for _, sec := range extra {
		datas = append(datas, sec.Data)
	}

	off := uint64(ehSize)
	for i := range headers {
		headers[i].Offset = off
		headers[i].Size = uint64(len(datas[i]))
		off += uint64(len(datas[i]))
	}
	shoff := off

	var out bytes.Buffer
	// ELF header.
	out.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&out, binary.LittleEndian, uint16(2))  // e_type: ET_EXEC
	binary.Write(&out, binary.LittleEndian, uint16(62)) // e_machine: EM_X86_64
	binary.Write(&out, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&out, binary.LittleEndian, uint64(0))  // e_entry
	binary.Write(&out, binary.LittleEndian, uint64(0))  // e_phoff
	binary.Write(&out, binary.LittleEndian, shoff)      // e_shoff
	binary.Write(&out, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&out, binary.LittleEndian, uint16(ehSize))
	binary.Write(&out, binary.LittleEndian, uint16(0)) // e_phentsize
	binary.Write(&out, binary.LittleEndian, uint16(0)) // e_phnum
	binary.Write(&out, binary.LittleEndian, uint16(shEntSize))
	binary.Write(&out, binary.LittleEndian, uint16(len(headers)))
	binary.Write(&out, binary.LittleEndian, uint16(1)) // e_shstrndx

	for _, d := range datas {
		out.Write(d)
	}
	for _, h := range headers {
		binary.Write(&out, binary.LittleEndian, h)
	}
	return out.Bytes()
}

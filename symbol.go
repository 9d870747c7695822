// This file is part of symdiff.
//
// Copyright (C) 2019-2024 GoRE Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package symdiff compares the symbols of two builds of the same program.
//
// Every symbol of the old and the new binary ends up in exactly one category:
// persisting, changed, added, removed or kind changed. Symbols are paired by
// their identity key and their content is normalized before it is compared, so
// a function that was only moved to another address is not reported as changed.
package symdiff

import (
	"fmt"
	"strings"
)

// Side identifies which of the two binaries produced a record.
type Side uint8

const (
	// Old is the binary the comparison starts from.
	Old Side = iota
	// New is the binary the comparison ends at.
	New
)

func (s Side) String() string {
	switch s {
	case Old:
		return "old"
	case New:
		return "new"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Old {
		return New
	}
	return Old
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind is the kind of entity a symbol represents.
type Kind uint8

const (
	KindFunction Kind = iota
	KindVariable
	KindConstant
	KindStaticMember
	KindInstanceMember
	KindType
)

var kindNames = [...]string{
	KindFunction:       "function",
	KindVariable:       "variable",
	KindConstant:       "constant",
	KindStaticMember:   "static member",
	KindInstanceMember: "instance member",
	KindType:           "type",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if strings.EqualFold(n, string(b)) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown symbol kind %q", string(b))
}

// IsCode reports whether symbols of the kind hold an instruction stream.
func (k Kind) IsCode() bool {
	return k == KindFunction || k == KindInstanceMember
}

// Binding describes the visibility of a symbol.
type Binding uint8

const (
	// BindingGlobal symbols are visible to the whole program.
	BindingGlobal Binding = iota
	// BindingInternal symbols are only visible inside their translation unit.
	BindingInternal
	// BindingLocalStatic symbols are function scoped statics.
	BindingLocalStatic
)

func (b Binding) String() string {
	switch b {
	case BindingGlobal:
		return "global"
	case BindingInternal:
		return "internal"
	case BindingLocalStatic:
		return "local-static"
	}
	return fmt.Sprintf("binding(%d)", uint8(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b Binding) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Arch is the instruction set the binaries were compiled for.
type Arch string

const (
	ArchAMD64   Arch = "amd64"
	Arch386     Arch = "i386"
	ArchARM64   Arch = "arm64"
	ArchARM     Arch = "arm"
	ArchMIPS    Arch = "mips"
	ArchUnknown Arch = ""
)

// Record is the normalized description of one symbol extracted from a binary.
// Records are immutable once they have been handed to BuildIndex.
type Record struct {
	// Key identifies the symbol across binaries. It is composed of the
	// scope chain, the name and, for callables, the parameter list.
	Key string `json:"key"`
	// Name is the human readable name of the symbol.
	Name string `json:"name,omitempty"`
	// Kind is the kind of the symbol.
	Kind Kind `json:"kind"`
	// Binding is the visibility of the symbol.
	Binding Binding `json:"binding"`
	// Content is the instruction stream of a function or the initialized
	// storage of a variable. It is nil for types and uninitialized data.
	Content []byte `json:"-"`
	// Size is the footprint of the symbol in the binary.
	Size uint64 `json:"size"`
	// Side is the binary that produced the record.
	Side Side `json:"side"`
	// Address is the load address of the symbol.
	Address uint64 `json:"address"`
	// Relocs holds the offsets of pointer sized absolute addresses inside
	// Content.
	Relocs []uint64 `json:"-"`
	// SourceFile is the source file the symbol was compiled from, if known.
	SourceFile string `json:"sourceFile,omitempty"`
}

// String returns a short summary of the record.
func (r Record) String() string {
	return fmt.Sprintf("%s %s (%d bytes at %#x)", r.Kind, r.Key, r.Size, r.Address)
}

// End returns the first address after the symbol.
func (r Record) End() uint64 {
	return r.Address + r.Size
}

// Region is an address range the binary occupies once loaded, usually one
// section. Addresses inside a region that no symbol covers, like string
// literals, are still addresses and get masked during normalization.
type Region struct {
	Name  string `json:"name,omitempty"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Contains reports whether addr lies in the region.
func (r Region) Contains(addr uint64) bool {
	return r.Start <= addr && addr < r.End
}

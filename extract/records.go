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

package extract

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/grafana/regexp"

	"github.com/goretk/symdiff"
)

// Name prefixes of compiler generated objects describing a class.
var typePrefixes = map[string]bool{
	"vtable for":              true,
	"typeinfo for":            true,
	"typeinfo name for":       true,
	"VTT for":                 true,
	"construction vtable for": true,
}

// Records returns a record for every symbol defined in the binary.
func (f *File) Records(side symdiff.Side) ([]symdiff.Record, error) {
	syms, err := f.fh.symbols()
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, ErrNoSymbols
	}
	secs := f.fh.sections()
	info := f.getdebug()
	order := f.fh.byteOrder()
	ptrSize := pointerSize(f.Arch())

	recs := make([]symdiff.Record, 0, len(syms))
	mangled := make([]string, 0, len(syms))
	for _, s := range syms {
		if s.section < 0 || s.section >= len(secs) {
			continue
		}
		sec := secs[s.section]
		if sec.class == sectionOther {
			continue
		}

		rec := f.record(s, sec, info)
		rec.Side = side

		if sec.class != sectionBSS && s.size > 0 {
			content, err := readContent(sec, s.addr, s.size)
			if err != nil {
				return nil, fmt.Errorf("failed to read content of %s: %w", rec.Name, err)
			}
			rec.Content = content
			if !rec.Kind.IsCode() && order == binary.LittleEndian {
				rec.Relocs = pointerSlots(rec, ptrSize, secs)
			}
		}
		recs = append(recs, rec)
		mangled = append(mangled, s.name)
	}
	recs = resolveCollisions(recs, mangled)
	level.Debug(f.opts.logger).Log("msg", "extracted symbols", "side", side, "records", len(recs))
	return recs, nil
}

func (f *File) record(s rawSymbol, sec *section, info *debugInfo) symdiff.Record {
	display := f.demangler.name(s.name)
	n := symdiff.ParseName(display)

	rec := symdiff.Record{
		Name:    display,
		Kind:    kindOf(n, sec.class, info),
		Binding: symdiff.BindingGlobal,
		Size:    s.size,
		Address: s.addr,
	}
	if file := info.sourceFile(s.addr); file != "" {
		rec.SourceFile = sourceBase(file)
	}

	rec.Key = n.Key()
	if n.Base == "" {
		// Not something the name parser understands, use it as is.
		rec.Key = display
	}
	switch {
	case n.LocalStatic():
		rec.Binding = symdiff.BindingLocalStatic
	case s.local:
		rec.Binding = symdiff.BindingInternal
		unit := rec.SourceFile
		if s.unit != "" {
			unit = sourceBase(s.unit)
		}
		rec.Key = symdiff.InternalKey(rec.Key, unit)
	}
	return rec
}

// kindOf derives the kind of a symbol from its name and the section it is
// stored in.
func kindOf(n symdiff.Name, class sectionClass, info *debugInfo) symdiff.Kind {
	if typePrefixes[n.Prefix] {
		return symdiff.KindType
	}
	scope := strings.Join(n.Scope, "::")
	member := scope != "" && info.isClass(scope)

	switch class {
	case sectionCode:
		switch {
		case !member:
			// Without debug information, only a qualified member function
			// gives away that it belongs to a class.
			if info == nil && n.Qualifiers != "" {
				return symdiff.KindInstanceMember
			}
			return symdiff.KindFunction
		case info.isStaticMethod(n.Qualified()):
			return symdiff.KindFunction
		}
		return symdiff.KindInstanceMember
	case sectionConst:
		if member {
			return symdiff.KindStaticMember
		}
		return symdiff.KindConstant
	}
	if member {
		return symdiff.KindStaticMember
	}
	return symdiff.KindVariable
}

func readContent(sec *section, addr, size uint64) ([]byte, error) {
	data, err := sec.data()
	if err != nil {
		return nil, err
	}
	if addr < sec.addr {
		return nil, fmt.Errorf("address %#x before section %s", addr, sec.name)
	}
	start := addr - sec.addr
	if start >= uint64(len(data)) {
		// Symbols in the virtual tail of a section have no file content.
		return nil, nil
	}
	end := min(start+size, uint64(len(data)))
	return data[start:end], nil
}

// pointerSlots returns the offsets of aligned pointer sized values in the
// content of rec that point into a section of the binary.
func pointerSlots(rec symdiff.Record, ptrSize int, secs []*section) []uint64 {
	var slots []uint64
	content := rec.Content
	// Align to the address, not to the start of the content.
	first := (ptrSize - int(rec.Address%uint64(ptrSize))) % ptrSize
	for off := first; off+ptrSize <= len(content); off += ptrSize {
		var v uint64
		if ptrSize == 4 {
			v = uint64(binary.LittleEndian.Uint32(content[off:]))
		} else {
			v = binary.LittleEndian.Uint64(content[off:])
		}
		if v == 0 {
			continue
		}
		for _, s := range secs {
			if s.class != sectionOther && s.contains(v) {
				slots = append(slots, uint64(off))
				break
			}
		}
	}
	return slots
}

func pointerSize(arch symdiff.Arch) int {
	switch arch {
	case symdiff.Arch386, symdiff.ArchARM, symdiff.ArchMIPS:
		return 4
	}
	return 8
}

// structorRe matches the Itanium encoding of a constructor or destructor
// variant at the end of a nested name.
var structorRe = regexp.MustCompile(`(C[1-5]|D[0-5])(?:E|I|B[0-9])`)

var structorNames = map[string]string{
	"C1": "complete",
	"C2": "base",
	"C3": "allocating",
	"C4": "unified",
	"C5": "comdat",
	"D0": "deleting",
	"D1": "complete",
	"D2": "base",
	"D4": "unified",
	"D5": "comdat",
}

func structorVariant(mangled string) string {
	if !strings.HasPrefix(mangled, "_Z") {
		return ""
	}
	m := structorRe.FindAllStringSubmatch(mangled, -1)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1][1]
}

// resolveCollisions handles records that share a key. Aliases at the same
// address are folded into the one with the lowest mangled name. Constructor
// and destructor variants at different addresses get the variant appended to
// their key. Any other collision is left for the index to report.
func resolveCollisions(recs []symdiff.Record, mangled []string) []symdiff.Record {
	groups := make(map[string][]int, len(recs))
	for i, r := range recs {
		groups[r.Key] = append(groups[r.Key], i)
	}

	drop := make(map[int]bool)
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		slices.SortFunc(idxs, func(a, b int) int {
			if c := cmp.Compare(recs[a].Address, recs[b].Address); c != 0 {
				return c
			}
			return cmp.Compare(mangled[a], mangled[b])
		})
		kept := idxs[:1]
		for _, i := range idxs[1:] {
			if recs[i].Address == recs[kept[len(kept)-1]].Address {
				drop[i] = true
				continue
			}
			kept = append(kept, i)
		}
		if len(kept) < 2 {
			continue
		}

		variants := make(map[string]bool, len(kept))
		for _, i := range kept {
			v := structorVariant(mangled[i])
			if v == "" || variants[v] {
				variants = nil
				break
			}
			variants[v] = true
		}
		if variants == nil {
			continue
		}
		for _, i := range kept {
			recs[i].Key += " [" + structorNames[structorVariant(mangled[i])] + "]"
		}
	}
	if len(drop) == 0 {
		return recs
	}

	out := make([]symdiff.Record, 0, len(recs)-len(drop))
	for i, r := range recs {
		if !drop[i] {
			out = append(out, r)
		}
	}
	return out
}

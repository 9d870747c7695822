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
	"bytes"
	"cmp"
	"compress/zlib"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"github.com/goretk/symdiff"
)

// Mach-O nlist type bits.
const (
	nStab = 0xe0
	nType = 0x0e
	nSect = 0x0e
	nExt  = 0x01
)

// Mach-O section flags.
const (
	sectionTypeMask         = 0xff
	sZerofill               = 0x01
	sGBZerofill             = 0x0c
	sThreadLocalZerofill    = 0x12
	sAttrPureInstructions   = 0x80000000
	sAttrSomeInstructions   = 0x00000400
	machoDwarfSectionPrefix = "__debug_"
	machoZDwarfPrefix       = "__zdebug_"
)

func openMachO(r io.ReaderAt) (*machoFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("error when parsing the Mach-O file: %w", err)
	}
	ret := &machoFile{file: f, reader: r}
	ret.getsections = sync.OnceValue(ret.initSections)
	return ret, nil
}

var _ fileHandler = (*machoFile)(nil)

type machoFile struct {
	file        *macho.File
	reader      io.ReaderAt
	getsections func() []*section
}

func (m *machoFile) Close() error {
	err := m.file.Close()
	if err != nil {
		return err
	}
	return tryClose(m.reader)
}

func (m *machoFile) arch() symdiff.Arch {
	switch m.file.CPU {
	case types.CPUI386:
		return symdiff.Arch386
	case types.CPUAmd64:
		return symdiff.ArchAMD64
	case types.CPUArm64:
		return symdiff.ArchARM64
	}
	return symdiff.ArchUnknown
}

func (m *machoFile) byteOrder() binary.ByteOrder {
	return m.file.ByteOrder
}

func (m *machoFile) initSections() []*section {
	secs := make([]*section, len(m.file.Sections))
	for i, s := range m.file.Sections {
		secs[i] = &section{
			name:  s.Seg + "," + s.Name,
			addr:  s.Addr,
			size:  s.Size,
			class: machoSectionClass(s),
			data:  sync.OnceValues(s.Data),
		}
	}
	return secs
}

func machoSectionClass(s *types.Section) sectionClass {
	flags := uint32(s.Flags)
	switch flags & sectionTypeMask {
	case sZerofill, sGBZerofill, sThreadLocalZerofill:
		return sectionBSS
	}
	switch {
	case flags&(sAttrPureInstructions|sAttrSomeInstructions) != 0:
		return sectionCode
	case s.Seg == "__TEXT", s.Seg == "__DATA_CONST":
		return sectionConst
	case strings.HasPrefix(s.Seg, "__DATA"):
		return sectionData
	}
	return sectionOther
}

func (m *machoFile) sections() []*section {
	return m.getsections()
}

// symbols reads the nlist symbol table. Like in COFF, the size of a symbol is
// inferred from where the next symbol begins.
func (m *machoFile) symbols() ([]rawSymbol, error) {
	if m.file.Symtab == nil || len(m.file.Symtab.Syms) == 0 {
		return nil, ErrNoSymbols
	}
	secs := m.sections()

	syms := make([]rawSymbol, 0, len(m.file.Symtab.Syms))
	for _, s := range m.file.Symtab.Syms {
		typ := uint8(s.Type)
		if typ&nStab != 0 || typ&nType != nSect {
			// Skip stab debug info and undefined symbols.
			continue
		}
		idx := int(s.Sect) - 1
		if idx < 0 || idx >= len(secs) || s.Name == "" {
			continue
		}
		name := s.Name
		if strings.HasPrefix(name, "ltmp") || strings.HasPrefix(name, "l_") {
			// Assembler temporaries.
			continue
		}
		syms = append(syms, rawSymbol{
			name:    strings.TrimPrefix(name, "_"),
			addr:    s.Value,
			section: idx,
			local:   typ&nExt == 0,
		})
	}

	slices.SortStableFunc(syms, func(a, b rawSymbol) int {
		return cmp.Compare(a.addr, b.addr)
	})
	for i := range syms {
		end := secs[syms[i].section].addr + secs[syms[i].section].size
		for j := i + 1; j < len(syms); j++ {
			if syms[j].addr > syms[i].addr {
				end = min(end, syms[j].addr)
				break
			}
		}
		syms[i].size = end - syms[i].addr
	}
	return syms, nil
}

func (m *machoFile) getSectionData(s string) ([]byte, error) {
	for _, sect := range m.file.Sections {
		if sect.Name == s {
			return sect.Data()
		}
	}
	return nil, ErrSectionDoesNotExist
}

func (m *machoFile) buildID() (string, error) {
	data, err := m.getSectionData("__text")
	if err != nil {
		return "", fmt.Errorf("failed to get code section: %w", err)
	}
	return parseBuildIDFromRaw(data)
}

// getDwarf assembles the debug sections of the file. It avoids a dependency
// on github.com/blacktop/go-dwarf.
func (m *machoFile) getDwarf() (*dwarf.Data, error) {
	dat := map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	var extra []*types.Section
	for _, s := range m.file.Sections {
		suffix := machoDwarfSuffix(s)
		if suffix == "" {
			continue
		}
		if _, ok := dat[suffix]; !ok {
			extra = append(extra, s)
			continue
		}
		b, err := machoSectionData(s)
		if err != nil {
			return nil, err
		}
		dat[suffix] = b
	}
	if dat["info"] == nil {
		return nil, ErrSectionDoesNotExist
	}

	d, err := dwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
	if err != nil {
		return nil, err
	}

	// DWARF 4 type units and DWARF 5 sections.
	for i, s := range extra {
		b, err := machoSectionData(s)
		if err != nil {
			return nil, err
		}
		suffix := machoDwarfSuffix(s)
		if suffix == "str_offs" {
			// Mach-O section names are cut at 16 bytes.
			suffix = "str_offsets"
		}
		if suffix == "types" {
			err = d.AddTypes(fmt.Sprintf("types-%d", i), b)
		} else {
			err = d.AddSection(".debug_"+suffix, b)
		}
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func machoDwarfSuffix(s *types.Section) string {
	switch {
	case strings.HasPrefix(s.Name, machoDwarfSectionPrefix):
		return s.Name[len(machoDwarfSectionPrefix):]
	case strings.HasPrefix(s.Name, machoZDwarfPrefix):
		return s.Name[len(machoZDwarfPrefix):]
	}
	return ""
}

// machoSectionData returns the section content, inflated if it is zlib
// compressed.
func machoSectionData(s *types.Section) ([]byte, error) {
	b, err := s.Data()
	if err != nil && uint64(len(b)) < s.Size {
		return nil, err
	}
	if len(b) < 12 || string(b[:4]) != "ZLIB" {
		return b, nil
	}
	dlen := binary.BigEndian.Uint64(b[4:12])
	r, err := zlib.NewReader(bytes.NewReader(b[12:]))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	dbuf := make([]byte, dlen)
	if _, err := io.ReadFull(r, dbuf); err != nil {
		return nil, err
	}
	return dbuf, nil
}

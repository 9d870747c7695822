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
	"debug/dwarf"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/goretk/symdiff"
)

// COFF symbol storage classes.
const (
	imageSymClassExternal = 2
	imageSymClassStatic   = 3
	imageSymClassFile     = 103
)

// COFF symbol section numbers with a special meaning.
const (
	imageSymUndefined = 0
	imageSymAbsolute  = -1
	imageSymDebug     = -2
)

func openPE(r io.ReaderAt) (peF *peFile, err error) {
	// Parsing by the file by debug/pe can panic if the PE file is malformed.
	// To prevent a crash, we recover the panic and return it as an error
	// instead.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("error when processing PE file, probably corrupt: %s", rec)
		}
	}()

	f, err := pe.NewFile(r)
	if err != nil {
		err = fmt.Errorf("error when parsing the PE file: %w", err)
		return
	}

	imageBase := uint64(0)

	switch hdr := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(hdr.ImageBase)
	case *pe.OptionalHeader64:
		imageBase = hdr.ImageBase
	default:
		err = errors.New("unknown optional header type")
		return
	}

	peF = &peFile{file: f, reader: r, imageBase: imageBase}
	peF.getsections = sync.OnceValue(peF.initSections)
	return
}

var _ fileHandler = (*peFile)(nil)

type peFile struct {
	file        *pe.File
	reader      io.ReaderAt
	imageBase   uint64
	getsections func() []*section
}

func (p *peFile) Close() error {
	err := p.file.Close()
	if err != nil {
		return err
	}
	return tryClose(p.reader)
}

func (p *peFile) arch() symdiff.Arch {
	switch p.file.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return symdiff.Arch386
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return symdiff.ArchAMD64
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return symdiff.ArchARM64
	case pe.IMAGE_FILE_MACHINE_ARMNT:
		return symdiff.ArchARM
	}
	return symdiff.ArchUnknown
}

func (p *peFile) byteOrder() binary.ByteOrder {
	return binary.LittleEndian
}

func (p *peFile) initSections() []*section {
	secs := make([]*section, len(p.file.Sections))
	for i, s := range p.file.Sections {
		secs[i] = &section{
			name:  s.Name,
			addr:  p.imageBase + uint64(s.VirtualAddress),
			size:  uint64(max(s.VirtualSize, s.Size)),
			class: peSectionClass(s.Characteristics),
			data:  sync.OnceValues(s.Data),
		}
	}
	return secs
}

func peSectionClass(c uint32) sectionClass {
	switch {
	case c&pe.IMAGE_SCN_CNT_CODE != 0:
		return sectionCode
	case c&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0:
		return sectionBSS
	case c&pe.IMAGE_SCN_CNT_INITIALIZED_DATA == 0:
		return sectionOther
	case c&pe.IMAGE_SCN_MEM_WRITE != 0:
		return sectionData
	}
	return sectionConst
}

func (p *peFile) sections() []*section {
	return p.getsections()
}

// symbols reads the COFF symbol table. COFF symbols have no size, it is
// inferred from the start of the next symbol in the same section.
func (p *peFile) symbols() ([]rawSymbol, error) {
	if len(p.file.COFFSymbols) == 0 {
		return nil, ErrNoSymbols
	}
	secs := p.sections()

	var syms []rawSymbol
	var unit string
	for i := 0; i < len(p.file.COFFSymbols); i++ {
		s := &p.file.COFFSymbols[i]
		aux := int(s.NumberOfAuxSymbols)

		switch {
		case s.StorageClass == imageSymClassFile:
			unit = p.auxString(i+1, aux)
		case s.StorageClass != imageSymClassExternal && s.StorageClass != imageSymClassStatic:
		case s.StorageClass == imageSymClassStatic && aux > 0:
			// Section definition.
		case s.SectionNumber == imageSymUndefined, s.SectionNumber == imageSymAbsolute, s.SectionNumber == imageSymDebug:
		default:
			if s.SectionNumber < 0 || len(secs) < int(s.SectionNumber) {
				return nil, fmt.Errorf("invalid section number in symbol table")
			}
			name, err := s.FullName(p.file.StringTable)
			if err != nil {
				return nil, fmt.Errorf("error when reading symbol name: %w", err)
			}
			if name == "" || strings.HasPrefix(name, ".") {
				break
			}
			if p.file.Machine == pe.IMAGE_FILE_MACHINE_I386 {
				// cdecl names carry a leading underscore.
				name = strings.TrimPrefix(name, "_")
			}
			idx := int(s.SectionNumber) - 1
			rs := rawSymbol{
				name:    name,
				addr:    secs[idx].addr + uint64(s.Value),
				section: idx,
				local:   s.StorageClass == imageSymClassStatic,
			}
			if rs.local {
				rs.unit = unit
			}
			syms = append(syms, rs)
		}
		i += aux
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

// auxString returns the content of n auxiliary symbol records starting at
// index i as a string.
func (p *peFile) auxString(i, n int) string {
	var buf bytes.Buffer
	for j := i; j < i+n && j < len(p.file.COFFSymbols); j++ {
		binary.Write(&buf, binary.LittleEndian, p.file.COFFSymbols[j])
	}
	return string(bytes.TrimRight(buf.Bytes(), "\x00"))
}

func (p *peFile) buildID() (string, error) {
	for _, s := range p.file.Sections {
		if s.Characteristics&pe.IMAGE_SCN_CNT_CODE == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return "", fmt.Errorf("failed to get code section: %w", err)
		}
		return parseBuildIDFromRaw(data)
	}
	return "", ErrSectionDoesNotExist
}

func (p *peFile) getDwarf() (*dwarf.Data, error) {
	return p.file.DWARF()
}

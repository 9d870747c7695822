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
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goretk/symdiff"
)

func openELF(r io.ReaderAt) (*elfFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("error when parsing the ELF file: %w", err)
	}
	ret := &elfFile{file: f, reader: r}
	ret.getsections = sync.OnceValue(ret.initSections)
	return ret, nil
}

var _ fileHandler = (*elfFile)(nil)

type elfFile struct {
	file        *elf.File
	reader      io.ReaderAt
	getsections func() []*section
}

func (e *elfFile) Close() error {
	err := e.file.Close()
	if err != nil {
		return err
	}
	return tryClose(e.reader)
}

func (e *elfFile) arch() symdiff.Arch {
	switch e.file.Machine {
	case elf.EM_386:
		return symdiff.Arch386
	case elf.EM_X86_64:
		return symdiff.ArchAMD64
	case elf.EM_AARCH64:
		return symdiff.ArchARM64
	case elf.EM_ARM:
		return symdiff.ArchARM
	case elf.EM_MIPS:
		return symdiff.ArchMIPS
	}
	return symdiff.ArchUnknown
}

func (e *elfFile) byteOrder() binary.ByteOrder {
	return e.file.ByteOrder
}

func (e *elfFile) initSections() []*section {
	secs := make([]*section, len(e.file.Sections))
	for i, s := range e.file.Sections {
		secs[i] = &section{
			name:  s.Name,
			addr:  s.Addr,
			size:  s.Size,
			class: elfSectionClass(s),
			data:  sync.OnceValues(s.Data),
		}
	}
	return secs
}

func elfSectionClass(s *elf.Section) sectionClass {
	switch {
	case s.Flags&elf.SHF_ALLOC == 0:
		return sectionOther
	case s.Type == elf.SHT_NOBITS, s.Flags&elf.SHF_TLS != 0:
		return sectionBSS
	case s.Flags&elf.SHF_EXECINSTR != 0:
		return sectionCode
	case s.Flags&elf.SHF_WRITE != 0:
		return sectionData
	case s.Type == elf.SHT_PROGBITS:
		return sectionConst
	}
	return sectionOther
}

func (e *elfFile) sections() []*section {
	return e.getsections()
}

func (e *elfFile) symbols() ([]rawSymbol, error) {
	syms, err := e.file.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, ErrNoSymbols
		}
		return nil, fmt.Errorf("error when getting the symbols: %w", err)
	}

	ret := make([]rawSymbol, 0, len(syms))
	// Local symbols follow the file symbol of their translation unit.
	var unit string
	for _, s := range syms {
		typ := elf.ST_TYPE(s.Info)
		if typ == elf.STT_FILE {
			unit = s.Name
			continue
		}
		if typ != elf.STT_FUNC && typ != elf.STT_OBJECT && typ != elf.STT_TLS &&
			!(typ == elf.STT_NOTYPE && s.Size > 0) {
			continue
		}
		if s.Section == elf.SHN_UNDEF || s.Section >= elf.SHN_LORESERVE || skipELFName(s.Name) {
			continue
		}
		rs := rawSymbol{
			name:    s.Name,
			addr:    s.Value,
			size:    s.Size,
			section: int(s.Section),
			local:   elf.ST_BIND(s.Info) == elf.STB_LOCAL,
		}
		if rs.local {
			rs.unit = unit
		}
		if e.file.Machine == elf.EM_ARM {
			// The lowest bit marks thumb code.
			rs.addr &^= 1
		}
		ret = append(ret, rs)
	}
	return ret, nil
}

// skipELFName reports whether the symbol is a local label or a mapping symbol.
func skipELFName(name string) bool {
	return name == "" || strings.HasPrefix(name, ".L") || strings.HasPrefix(name, "$")
}

func (e *elfFile) getSectionData(name string) ([]byte, error) {
	section := e.file.Section(name)
	if section == nil {
		return nil, ErrSectionDoesNotExist
	}
	return section.Data()
}

func (e *elfFile) buildID() (string, error) {
	data, err := e.getSectionData(".note.go.buildid")
	if err == nil {
		return parseBuildIDFromElf(data, e.file.ByteOrder)
	}
	if !errors.Is(err, ErrSectionDoesNotExist) {
		return "", fmt.Errorf("error when getting note section: %w", err)
	}

	data, err = e.getSectionData(".note.gnu.build-id")
	// If the note section does not exist, we just ignore the build id.
	if errors.Is(err, ErrSectionDoesNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error when getting note section: %w", err)
	}
	id, err := parseNote(data, e.file.ByteOrder, gnuNoteName, ntGNUBuildID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id), nil
}

func (e *elfFile) getDwarf() (*dwarf.Data, error) {
	return e.file.DWARF()
}

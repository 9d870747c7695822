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

// Package extract reads the symbol tables of ELF, PE and Mach-O files and
// turns them into records for symdiff.Compare.
package extract

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/goretk/symdiff"
)

var (
	elfMagic       = []byte{0x7f, 0x45, 0x4c, 0x46}
	peMagic        = []byte{0x4d, 0x5a}
	maxMagicBufLen = 4
	machoMagic1    = []byte{0xfe, 0xed, 0xfa, 0xce}
	machoMagic2    = []byte{0xfe, 0xed, 0xfa, 0xcf}
	machoMagic3    = []byte{0xce, 0xfa, 0xed, 0xfe}
	machoMagic4    = []byte{0xcf, 0xfa, 0xed, 0xfe}
)

// sectionClass is what a section holds, as far as symbol kinds go.
type sectionClass uint8

const (
	sectionOther sectionClass = iota
	sectionCode
	sectionData
	sectionConst
	// sectionBSS sections occupy memory but have no content in the file.
	sectionBSS
)

type section struct {
	name  string
	addr  uint64
	size  uint64
	class sectionClass
	data  func() ([]byte, error)
}

func (s *section) contains(addr uint64) bool {
	return s.addr <= addr && addr < s.addr+s.size
}

// rawSymbol is a symbol as found in the symbol table.
type rawSymbol struct {
	name    string
	addr    uint64
	size    uint64
	section int
	local   bool
	// unit is the translation unit of a local symbol, if the format
	// records it.
	unit string
}

type fileHandler interface {
	io.Closer
	arch() symdiff.Arch
	byteOrder() binary.ByteOrder
	sections() []*section
	symbols() ([]rawSymbol, error)
	buildID() (string, error)
	getDwarf() (*dwarf.Data, error)
}

// Open opens a file and returns a handler to the file.
func Open(filePath string, opts ...Option) (*File, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	file, err := OpenReader(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	file.Path = filePath
	return file, nil
}

// OpenReader parses the file held by r. If r implements io.Closer, it is
// closed by File.Close.
func OpenReader(r io.ReaderAt, opts ...Option) (*File, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	buf := make([]byte, maxMagicBufLen)
	n, err := r.ReadAt(buf, 0)
	if n < maxMagicBufLen {
		if err != nil && err != io.EOF {
			return nil, err
		}
		return nil, ErrNotEnoughBytesRead
	}

	var fh fileHandler
	switch {
	case fileMagicMatch(buf, elfMagic):
		fh, err = openELF(r)
	case fileMagicMatch(buf, peMagic):
		fh, err = openPE(r)
	case fileMagicMatch(buf, machoMagic1) || fileMagicMatch(buf, machoMagic2) ||
		fileMagicMatch(buf, machoMagic3) || fileMagicMatch(buf, machoMagic4):
		fh, err = openMachO(r)
	default:
		return nil, ErrUnsupportedFile
	}
	if err != nil {
		return nil, err
	}

	dm, err := newDemangler(o)
	if err != nil {
		fh.Close()
		return nil, err
	}

	file := &File{fh: fh, opts: o, demangler: dm}
	file.getdebug = sync.OnceValue(file.initDebugInfo)

	// If the ID has been removed or tampered with, this will fail. If we can't
	// get a build ID, we skip it.
	if id, err := fh.buildID(); err == nil {
		file.buildID = id
	} else {
		level.Debug(o.logger).Log("msg", "no build id", "err", err)
	}
	return file, nil
}

func fileMagicMatch(buf, magic []byte) bool {
	return bytes.HasPrefix(buf, magic)
}

// File is an opened binary.
type File struct {
	// Path is the path the file was opened from. It is empty for files
	// opened with OpenReader.
	Path string

	fh        fileHandler
	opts      options
	demangler *demangler
	buildID   string
	getdebug  func() *debugInfo
}

// Arch returns the instruction set of the binary.
func (f *File) Arch() symdiff.Arch {
	return f.fh.arch()
}

// BuildID returns the build ID of the binary, or an empty string.
func (f *File) BuildID() string {
	return f.buildID
}

// Info describes the file for a report.
func (f *File) Info() symdiff.BinaryInfo {
	return symdiff.BinaryInfo{Path: f.Path, Arch: f.Arch(), BuildID: f.buildID}
}

// Regions returns the address ranges of the sections loaded into memory.
func (f *File) Regions() []symdiff.Region {
	var regions []symdiff.Region
	for _, s := range f.fh.sections() {
		if s.class == sectionOther || s.addr == 0 || s.size == 0 {
			continue
		}
		regions = append(regions, symdiff.Region{Name: s.name, Start: s.addr, End: s.addr + s.size})
	}
	return regions
}

// Close closes the file.
func (f *File) Close() error {
	return f.fh.Close()
}

func (f *File) initDebugInfo() *debugInfo {
	if !f.opts.debugInfo {
		return nil
	}
	data, err := f.fh.getDwarf()
	if err != nil {
		level.Debug(f.opts.logger).Log("msg", "no debug information", "err", err)
		return nil
	}
	info, err := readDebugInfo(data, f.fh.byteOrder())
	if err != nil {
		level.Warn(f.opts.logger).Log("msg", "failed to read debug information", "err", err)
		return nil
	}
	return info
}

func tryClose(r io.ReaderAt) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

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
	"encoding/binary"
	"fmt"
)

var (
	goNoteNameELF  = []byte("Go\x00\x00")
	gnuNoteName    = []byte("GNU\x00")
	goNoteRawStart = []byte("\xff Go build ID: \"")
	goNoteRawEnd   = []byte("\"\n \xff")
)

const (
	ntGoBuildID  = 4
	ntGNUBuildID = 3
)

// parseNote returns the descriptor of an ELF note with the given name and
// type.
func parseNote(data []byte, byteOrder binary.ByteOrder, name []byte, typ uint32) ([]byte, error) {
	r := bytes.NewReader(data)
	var hdr struct {
		NameLen uint32
		DescLen uint32
		Tag     uint32
	}
	err := binary.Read(r, byteOrder, &hdr)
	if err != nil {
		return nil, fmt.Errorf("error when reading the note header: %w", err)
	}
	if hdr.Tag != typ {
		return nil, fmt.Errorf("note type does not match expected value. 0x%x parsed", hdr.Tag)
	}

	// The descriptor starts at a 4 byte boundary after the name.
	nameEnd := 12 + int(hdr.NameLen)
	descStart := 12 + (int(hdr.NameLen)+3)&^3
	descEnd := descStart + int(hdr.DescLen)
	if nameEnd > len(data) || descEnd > len(data) {
		return nil, ErrNotEnoughBytesRead
	}
	if !bytes.Equal(bytes.TrimRight(data[12:nameEnd], "\x00"), bytes.TrimRight(name, "\x00")) {
		return nil, fmt.Errorf("note name not as expected")
	}
	return data[descStart:descEnd], nil
}

func parseBuildIDFromElf(data []byte, byteOrder binary.ByteOrder) (string, error) {
	id, err := parseNote(data, byteOrder, goNoteNameELF, ntGoBuildID)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

func parseBuildIDFromRaw(data []byte) (string, error) {
	idx := bytes.Index(data, goNoteRawStart)
	if idx < 0 {
		// No Build ID
		return "", nil
	}
	end := bytes.Index(data[idx:], goNoteRawEnd)
	if end < 0 {
		return "", fmt.Errorf("malformed Build ID")
	}
	return string(data[idx+len(goNoteRawStart) : idx+end]), nil
}

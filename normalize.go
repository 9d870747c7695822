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

package symdiff

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var errUnsupportedArch = errors.New("no instruction decoder for architecture")

// Markers that keep the different encodings of a canonical form apart.
const (
	formCode = "code\x00"
	formData = "data\x00"
	formRaw  = "raw\x00"
)

// CanonicalForm is the content of a symbol with all address and layout
// dependent parts removed or rewritten.
type CanonicalForm struct {
	// Data is the canonical byte representation used for comparison.
	Data []byte
	// Digest is the xxhash64 of Data.
	Digest uint64
	// Degraded is set if the content could not be normalized and Data holds
	// the raw bytes instead.
	Degraded bool
	// Reason explains why the form is degraded.
	Reason string
}

func newForm(data []byte) CanonicalForm {
	return CanonicalForm{Data: data, Digest: xxhash.Sum64(data)}
}

// Equal reports whether both forms describe the same content.
func (c CanonicalForm) Equal(o CanonicalForm) bool {
	return bytes.Equal(c.Data, o.Data)
}

// DigestString returns the digest as a fixed width hex string.
func (c CanonicalForm) DigestString() string {
	return fmt.Sprintf("%016x", c.Digest)
}

// Normalizer produces canonical forms for the records of one binary.
// It is safe for concurrent use.
type Normalizer struct {
	arch     Arch
	resolver Resolver
	// regions is sorted by start address.
	regions []Region
}

// NewNormalizer returns a normalizer for binaries of the given architecture.
// The resolver is used to rewrite addresses into symbol references; it can
// be nil, in which case all foreign addresses are masked. Immediates and
// displacements that point into one of the regions are masked even if no
// symbol covers them.
func NewNormalizer(arch Arch, resolver Resolver, regions ...Region) *Normalizer {
	n := &Normalizer{arch: arch, resolver: resolver}
	for _, r := range regions {
		if r.Start != 0 && r.End > r.Start {
			n.regions = append(n.regions, r)
		}
	}
	slices.SortFunc(n.regions, func(a, b Region) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return n
}

// Arch returns the architecture the normalizer decodes.
func (n *Normalizer) Arch() Arch {
	return n.arch
}

// strategy turns the content of a record into canonical data.
type strategy func(n *Normalizer, rec Record) ([]byte, error)

var strategies = map[Kind]strategy{
	KindFunction:       normalizeCode,
	KindInstanceMember: normalizeCode,
	KindVariable:       normalizeData,
	KindConstant:       normalizeData,
	KindStaticMember:   normalizeData,
	// Types normally carry no storage. Virtual tables and type info do and
	// are compared like data.
	KindType: normalizeData,
}

// Normalize returns the canonical form of the record. It never fails: content
// that can't be decoded is compared byte by byte and the form is marked as
// degraded.
func (n *Normalizer) Normalize(rec Record) (form CanonicalForm) {
	defer func() {
		if r := recover(); r != nil {
			form = n.raw(rec, fmt.Sprintf("normalizer panic: %v", r))
		}
	}()

	if len(rec.Content) == 0 {
		return newForm(nil)
	}
	s, ok := strategies[rec.Kind]
	if !ok {
		return n.raw(rec, fmt.Sprintf("no strategy for %s", rec.Kind))
	}
	data, err := s(n, rec)
	if err != nil {
		return n.raw(rec, err.Error())
	}
	return newForm(data)
}

// raw is the fallback form: the content with only its padding trimmed.
func (n *Normalizer) raw(rec Record, reason string) CanonicalForm {
	var content []byte
	if rec.Kind.IsCode() {
		content = trimPadding(rec.Content, n.paddingBytes())
	} else {
		content = trimToSize(rec)
	}
	data := make([]byte, 0, len(formRaw)+len(content))
	data = append(data, formRaw...)
	data = append(data, content...)
	form := newForm(data)
	form.Degraded = true
	form.Reason = reason
	return form
}

func (n *Normalizer) paddingBytes() []byte {
	switch n.arch {
	case ArchAMD64, Arch386:
		return []byte{0xcc, 0x90}
	default:
		return []byte{0x00}
	}
}

func trimPadding(content, padding []byte) []byte {
	end := len(content)
	for end > 0 && bytes.IndexByte(padding, content[end-1]) >= 0 {
		end--
	}
	return content[:end]
}

func (n *Normalizer) pointerSize() int {
	switch n.arch {
	case Arch386, ArchARM, ArchMIPS:
		return 4
	default:
		return 8
	}
}

// instruction is one decoded instruction in canonical text form.
type instruction struct {
	text    string
	padding bool
}

// decoder decodes the whole instruction stream of a code symbol.
type decoder func(n *Normalizer, rec Record) ([]instruction, error)

var decoders = map[Arch]decoder{
	ArchAMD64: decodeX86(64),
	Arch386:   decodeX86(32),
	ArchARM64: decodeARM64,
}

func normalizeCode(n *Normalizer, rec Record) ([]byte, error) {
	dec, ok := decoders[n.arch]
	if !ok {
		return nil, fmt.Errorf("%w %q", errUnsupportedArch, n.arch)
	}
	insts, err := dec(n, rec)
	if err != nil {
		return nil, err
	}

	// Drop the alignment padding after the last real instruction.
	end := len(insts)
	for end > 0 && insts[end-1].padding {
		end--
	}

	var buf bytes.Buffer
	buf.WriteString(formCode)
	for _, inst := range insts[:end] {
		buf.WriteString(inst.text)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func normalizeData(n *Normalizer, rec Record) ([]byte, error) {
	content := trimToSize(rec)
	relocs := slices.Clone(rec.Relocs)
	slices.Sort(relocs)
	ptrSize := n.pointerSize()

	data := []byte(formData)
	last := 0
	for _, off := range relocs {
		start := int(off)
		if start < last || start+ptrSize > len(content) {
			continue
		}
		data = appendChunk(data, 'b', content[last:start])
		var ptr uint64
		if ptrSize == 4 {
			ptr = uint64(binary.LittleEndian.Uint32(content[start:]))
		} else {
			ptr = binary.LittleEndian.Uint64(content[start:])
		}
		data = appendChunk(data, 'r', []byte(n.reference(rec, ptr, "ptr")))
		last = start + ptrSize
	}
	return appendChunk(data, 'b', content[last:]), nil
}

// appendChunk appends a tagged, length prefixed chunk.
func appendChunk(data []byte, tag byte, chunk []byte) []byte {
	data = append(data, tag)
	data = binary.AppendUvarint(data, uint64(len(chunk)))
	return append(data, chunk...)
}

// trimToSize drops the bytes past the symbol size. They belong to the gap
// the linker left for the alignment of the next symbol.
func trimToSize(rec Record) []byte {
	if rec.Size > 0 && uint64(len(rec.Content)) > rec.Size {
		return rec.Content[:rec.Size]
	}
	return rec.Content
}

// reference rewrites an absolute address into a stable token. Addresses
// inside the symbol itself become offsets, addresses in other symbols become
// references to their identity key and everything else is masked.
func (n *Normalizer) reference(rec Record, addr uint64, class string) string {
	end := rec.Address + uint64(len(rec.Content))
	if rec.Size > uint64(len(rec.Content)) {
		end = rec.End()
	}
	if rec.Address != 0 && addr >= rec.Address && addr < end {
		return fmt.Sprintf("@+%#x", addr-rec.Address)
	}
	if n.resolver != nil {
		if key, off, ok := n.resolver.Resolve(addr); ok {
			var sb strings.Builder
			sb.WriteByte('<')
			sb.WriteString(key)
			sb.WriteByte('>')
			if off != 0 {
				fmt.Fprintf(&sb, "+%#x", off)
			}
			return sb.String()
		}
	}
	return class + "?"
}

// absolute turns a displacement or an immediate into an address of the
// binary's width.
func (n *Normalizer) absolute(v int64) uint64 {
	if n.pointerSize() == 4 {
		return uint64(uint32(v))
	}
	return uint64(v)
}

// mapped reports whether addr lies in a symbol or in a loaded region.
func (n *Normalizer) mapped(addr uint64) bool {
	if n.resolves(addr) {
		return true
	}
	for _, r := range n.regions {
		if r.Start > addr {
			break
		}
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// resolves reports whether addr lies in a known symbol.
func (n *Normalizer) resolves(addr uint64) bool {
	if n.resolver == nil || addr == 0 {
		return false
	}
	_, _, ok := n.resolver.Resolve(addr)
	return ok
}

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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// x86Func assembles
//
//	push rbp
//	mov rbp, rsp
//	call callee
//	mov eax, [rip+global]
//	pop rbp
//	ret
//
// for a function loaded at addr, followed by the given padding.
func x86Func(addr, callee, global uint64, padding ...byte) []byte {
	b := []byte{0x55, 0x48, 0x89, 0xe5, 0xe8}
	b = binary.LittleEndian.AppendUint32(b, uint32(int64(callee)-int64(addr+uint64(len(b))+4)))
	b = append(b, 0x8b, 0x05)
	b = binary.LittleEndian.AppendUint32(b, uint32(int64(global)-int64(addr+uint64(len(b))+4)))
	b = append(b, 0x5d, 0xc3)
	return append(b, padding...)
}

// arm64Func assembles "bl callee; ret" for a function loaded at addr,
// followed by a nop and a zero word of padding.
func arm64Func(addr, callee uint64) []byte {
	imm := uint32((int64(callee)-int64(addr))/4) & 0x3ffffff
	b := binary.LittleEndian.AppendUint32(nil, 0x94000000|imm)
	b = append(b, 0xc0, 0x03, 0x5f, 0xd6)
	b = append(b, 0x1f, 0x20, 0x03, 0xd5)
	return append(b, 0, 0, 0, 0)
}

type layout struct {
	f, g, h, v uint64
}

func buildTestIndex(t *testing.T, side Side, l layout, fn Record) *Index {
	t.Helper()
	idx, err := BuildIndex(side, []Record{
		fn,
		{Key: "g()", Kind: KindFunction, Address: l.g, Size: 0x20},
		{Key: "h()", Kind: KindFunction, Address: l.h, Size: 0x20},
		{Key: "v", Kind: KindVariable, Address: l.v, Size: 4},
	})
	require.NoError(t, err)
	return idx
}

func TestNormalizeX86AddressInvariance(t *testing.T) {
	assert := assert.New(t)

	oldL := layout{f: 0x1000, g: 0x2000, h: 0x2100, v: 0x5000}
	newL := layout{f: 0x1140, g: 0x2400, h: 0x2300, v: 0x6010}

	oldFn := Record{Key: "f()", Kind: KindFunction, Address: oldL.f, Size: 0x20,
		Content: x86Func(oldL.f, oldL.g, oldL.v, 0xcc, 0xcc, 0x90)}
	newFn := Record{Key: "f()", Kind: KindFunction, Address: newL.f, Size: 0x20,
		Content: x86Func(newL.f, newL.g, newL.v, 0xcc)}

	oldNorm := NewNormalizer(ArchAMD64, buildTestIndex(t, Old, oldL, oldFn))
	newNorm := NewNormalizer(ArchAMD64, buildTestIndex(t, New, newL, newFn))

	oldForm := oldNorm.Normalize(oldFn)
	newForm := newNorm.Normalize(newFn)
	assert.False(oldForm.Degraded, oldForm.Reason)
	assert.False(newForm.Degraded, newForm.Reason)
	assert.True(oldForm.Equal(newForm), "Relocated code should have the same canonical form.")
	assert.Equal(oldForm.Digest, newForm.Digest)
	assert.Contains(string(oldForm.Data), "<g()>")
	assert.Contains(string(oldForm.Data), "<v>")

	// The new function calls h instead of g.
	changed := newFn
	changed.Content = x86Func(newL.f, newL.h, newL.v)
	changedForm := newNorm.Normalize(changed)
	assert.False(changedForm.Equal(oldForm), "Calling another function is a change.")
	assert.NotEqual(oldForm.DigestString(), changedForm.DigestString())
	assert.Len(changedForm.DigestString(), 16)
}

func TestNormalizeX86UnresolvedTarget(t *testing.T) {
	assert := assert.New(t)
	// Without a resolver foreign addresses are masked, so a relocated
	// function still compares equal.
	n := NewNormalizer(ArchAMD64, nil)
	a := n.Normalize(Record{Key: "f()", Kind: KindFunction, Address: 0x1000, Content: x86Func(0x1000, 0x2000, 0x5000)})
	b := n.Normalize(Record{Key: "f()", Kind: KindFunction, Address: 0x3000, Content: x86Func(0x3000, 0x4000, 0x7000)})
	assert.True(a.Equal(b))
	assert.Contains(string(a.Data), "rel?")
	assert.Contains(string(a.Data), "rip?")
}

func TestNormalizeARM64(t *testing.T) {
	assert := assert.New(t)

	oldL := layout{f: 0x1000, g: 0x3000, h: 0x3100, v: 0x8000}
	newL := layout{f: 0x1200, g: 0x3400, h: 0x3000, v: 0x8000}
	oldFn := Record{Key: "f()", Kind: KindFunction, Address: oldL.f, Size: 16, Content: arm64Func(oldL.f, oldL.g)}
	newFn := Record{Key: "f()", Kind: KindFunction, Address: newL.f, Size: 16, Content: arm64Func(newL.f, newL.g)}

	oldNorm := NewNormalizer(ArchARM64, buildTestIndex(t, Old, oldL, oldFn))
	newNorm := NewNormalizer(ArchARM64, buildTestIndex(t, New, newL, newFn))

	oldForm := oldNorm.Normalize(oldFn)
	newForm := newNorm.Normalize(newFn)
	assert.False(oldForm.Degraded, oldForm.Reason)
	assert.True(oldForm.Equal(newForm))
	assert.Contains(string(oldForm.Data), "<g()>")

	other := newFn
	other.Content = arm64Func(newL.f, newL.h)
	assert.False(newNorm.Normalize(other).Equal(oldForm))
}

func TestNormalizeDegraded(t *testing.T) {
	tests := []struct {
		name   string
		arch   Arch
		rec    Record
		reason string
	}{
		{
			name:   "truncated instruction",
			arch:   ArchAMD64,
			rec:    Record{Key: "f()", Kind: KindFunction, Address: 0x1000, Content: []byte{0x55, 0xe8, 0x01}},
			reason: "decoding instruction",
		},
		{
			name:   "unknown architecture",
			arch:   ArchUnknown,
			rec:    Record{Key: "f()", Kind: KindFunction, Address: 0x1000, Content: []byte{0x55, 0xc3}},
			reason: "no instruction decoder",
		},
		{
			name:   "arm64 partial word",
			arch:   ArchARM64,
			rec:    Record{Key: "f()", Kind: KindFunction, Address: 0x1000, Content: []byte{0xc0, 0x03, 0x5f, 0xd6, 0x01, 0x02}},
			reason: "truncated instruction",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			form := NewNormalizer(test.arch, nil).Normalize(test.rec)
			assert.True(form.Degraded)
			assert.Contains(form.Reason, test.reason)
			assert.NotEmpty(form.Data)

			// Degraded forms still compare equal for the same bytes.
			again := NewNormalizer(test.arch, nil).Normalize(test.rec)
			assert.True(form.Equal(again))
		})
	}
}

func TestNormalizeData(t *testing.T) {
	assert := assert.New(t)

	oldL := layout{f: 0x1000, g: 0x2000, h: 0x2100, v: 0x5000}
	newL := layout{f: 0x1000, g: 0x2400, h: 0x2000, v: 0x6000}

	table := func(target uint64, tail ...byte) []byte {
		b := binary.LittleEndian.AppendUint64(nil, target)
		return append(b, tail...)
	}
	oldTbl := Record{Key: "table", Kind: KindVariable, Address: 0x7000, Size: 12,
		Content: table(oldL.g, 0x2a, 0, 0, 0), Relocs: []uint64{0}}
	newTbl := Record{Key: "table", Kind: KindVariable, Address: 0x9000, Size: 12,
		Content: table(newL.g, 0x2a, 0, 0, 0, 0xff, 0xff, 0xff, 0xff), Relocs: []uint64{0}}

	fn := Record{Key: "f()", Kind: KindFunction, Address: 0x1000, Size: 0x10}
	oldNorm := NewNormalizer(ArchAMD64, buildTestIndex(t, Old, oldL, fn))
	newNorm := NewNormalizer(ArchAMD64, buildTestIndex(t, New, newL, fn))

	oldForm := oldNorm.Normalize(oldTbl)
	newForm := newNorm.Normalize(newTbl)
	assert.False(oldForm.Degraded)
	assert.True(oldForm.Equal(newForm), "Pointers to the same symbol and bytes past the size should not matter.")

	// Pointing at h in the new binary is a change.
	moved := newTbl
	moved.Content = table(newL.h, 0x2a, 0, 0, 0)
	assert.False(newNorm.Normalize(moved).Equal(oldForm))

	// Without relocations the pointer is compared as plain bytes.
	plain := oldTbl
	plain.Relocs = nil
	plainNew := newTbl
	plainNew.Relocs = nil
	assert.False(oldNorm.Normalize(plain).Equal(newNorm.Normalize(plainNew)))

	// A changed initializer is a change.
	reinit := newTbl
	reinit.Content = table(newL.g, 0x2b, 0, 0, 0)
	assert.False(newNorm.Normalize(reinit).Equal(oldForm))
}

func TestNormalizeEmptyContent(t *testing.T) {
	assert := assert.New(t)
	n := NewNormalizer(ArchAMD64, nil)
	for _, rec := range []Record{
		{Key: "Test", Kind: KindType},
		{Key: "bss", Kind: KindVariable, Address: 0x9000, Size: 64},
		{Key: "f()", Kind: KindFunction, Address: 0x1000},
	} {
		form := n.Normalize(rec)
		assert.Empty(form.Data, rec.Key)
		assert.False(form.Degraded, rec.Key)
		assert.True(form.Equal(CanonicalForm{}), rec.Key)
	}
}

func TestTrimPadding(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([]byte{0xc3}, trimPadding([]byte{0xc3, 0xcc, 0x90, 0xcc}, []byte{0xcc, 0x90}))
	assert.Empty(trimPadding([]byte{0xcc, 0xcc}, []byte{0xcc}))
	assert.Equal([]byte{1, 2}, trimPadding([]byte{1, 2}, []byte{0}))
}

func le32(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

// arm64Adrp assembles "adrp xd, target" for an instruction at pc.
func arm64Adrp(b []byte, pc, target uint64, rd uint32) []byte {
	imm := uint32((int64(target&^0xfff) - int64(pc&^0xfff)) >> 12)
	enc := 0x90000000 | (imm&3)<<29 | (imm>>2&0x7ffff)<<5 | rd
	return binary.LittleEndian.AppendUint32(b, enc)
}

func TestNormalizeAbsoluteAddresses(t *testing.T) {
	const (
		oldPC, oldTarget = 0x401000, 0x404020
		newPC, newTarget = 0x401100, 0x405040
		other            = 0x406000
	)
	arm64Ret := []byte{0xc0, 0x03, 0x5f, 0xd6}

	tests := []struct {
		name string
		arch Arch
		code func(pc, target uint64) []byte
		// named is set if a symbol covers the target, otherwise only the
		// region does.
		named bool
		want  string
	}{
		{
			name: "amd64 indexed table",
			arch: ArchAMD64,
			// mov eax, [rax*4+target]
			code: func(_, target uint64) []byte {
				return append(le32([]byte{0x8b, 0x04, 0x85}, target), 0xc3)
			},
			named: true,
			want:  "+RAX*4+<table>",
		},
		{
			name: "amd64 jump table",
			arch: ArchAMD64,
			// jmp [rax*8+target]
			code: func(_, target uint64) []byte {
				return le32([]byte{0xff, 0x24, 0xc5}, target)
			},
			want: "+RAX*8+abs?",
		},
		{
			name: "amd64 string literal",
			arch: ArchAMD64,
			// mov edi, target
			code: func(_, target uint64) []byte {
				return append(le32([]byte{0xbf}, target), 0xc3)
			},
			want: "imm?",
		},
		{
			name: "386 indexed array",
			arch: Arch386,
			// mov eax, [ecx*4+target]
			code: func(_, target uint64) []byte {
				return append(le32([]byte{0x8b, 0x04, 0x8d}, target), 0xc3)
			},
			named: true,
			want:  "+ECX*4+<table>",
		},
		{
			name: "386 base and displacement",
			arch: Arch386,
			// mov eax, [ecx+target]
			code: func(_, target uint64) []byte {
				return append(le32([]byte{0x8b, 0x81}, target), 0xc3)
			},
			named: true,
			want:  "ECX+<table>",
		},
		{
			name: "386 pushed literal",
			arch: Arch386,
			// push target
			code: func(_, target uint64) []byte {
				return append(le32([]byte{0x68}, target), 0xc3)
			},
			want: "imm?",
		},
		{
			name: "arm64 adrp and add",
			arch: ArchARM64,
			// adrp x0, target; add x0, x0, #:lo12:target; ret
			code: func(pc, target uint64) []byte {
				b := arm64Adrp(nil, pc, target, 0)
				b = binary.LittleEndian.AppendUint32(b, 0x91000000|uint32(target&0xfff)<<10)
				return append(b, arm64Ret...)
			},
			named: true,
			want:  "<table>",
		},
		{
			name: "arm64 adrp and ldr",
			arch: ArchARM64,
			// adrp x0, target; ldr x1, [x0, #:lo12:target]; ret
			code: func(pc, target uint64) []byte {
				b := arm64Adrp(nil, pc, target, 0)
				b = binary.LittleEndian.AppendUint32(b, 0xf9400001|uint32(target&0xfff)/8<<10)
				return append(b, arm64Ret...)
			},
			named: true,
			want:  "[X0,<table>]",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			regions := []Region{{Name: ".rodata", Start: 0x404000, End: other}}

			normalizer := func(side Side, target uint64, fn Record) *Normalizer {
				recs := []Record{fn, {Key: "other", Kind: KindVariable, Address: other, Size: 0x100}}
				if test.named {
					recs = append(recs, Record{Key: "table", Kind: KindVariable, Address: target, Size: 0x100})
				}
				idx, err := BuildIndex(side, recs)
				require.NoError(t, err)
				return NewNormalizer(test.arch, idx, regions...)
			}
			function := func(pc, target uint64) Record {
				code := test.code(pc, target)
				return Record{Key: "f()", Kind: KindFunction, Address: pc, Size: uint64(len(code)), Content: code}
			}

			oldFn := function(oldPC, oldTarget)
			newFn := function(newPC, newTarget)
			oldForm := normalizer(Old, oldTarget, oldFn).Normalize(oldFn)
			newNorm := normalizer(New, newTarget, newFn)
			newForm := newNorm.Normalize(newFn)

			assert.False(oldForm.Degraded, oldForm.Reason)
			assert.False(newForm.Degraded, newForm.Reason)
			assert.Contains(string(oldForm.Data), test.want)
			assert.True(oldForm.Equal(newForm), "Moving the target should not change the function.")

			changed := newNorm.Normalize(function(newPC, other))
			assert.False(changed.Degraded, changed.Reason)
			assert.Contains(string(changed.Data), "<other>")
			assert.False(changed.Equal(oldForm), "Pointing at another symbol is a change.")
		})
	}
}

func TestNormalizeX86Constants(t *testing.T) {
	regions := []Region{{Name: ".text", Start: 0x401000, End: 0x402000}}
	tests := []struct {
		name     string
		arch     Arch
		old, new []byte
	}{
		// push 0x10 / push 0x20
		{"immediate", Arch386, []byte{0x6a, 0x10, 0xc3}, []byte{0x6a, 0x20, 0xc3}},
		// mov eax, [ecx+8] / mov eax, [ecx+0xc]
		{"field offset", Arch386, []byte{0x8b, 0x41, 0x08, 0xc3}, []byte{0x8b, 0x41, 0x0c, 0xc3}},
		// mov eax, [rdi+0x100] / mov eax, [rdi+0x200]
		{"large field offset", ArchAMD64, le32([]byte{0x8b, 0x87}, 0x100), le32([]byte{0x8b, 0x87}, 0x200)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			n := NewNormalizer(test.arch, nil, regions...)
			a := n.Normalize(Record{Key: "f()", Kind: KindFunction, Address: 0x401000, Content: test.old})
			b := n.Normalize(Record{Key: "f()", Kind: KindFunction, Address: 0x401000, Content: test.new})
			assert.False(a.Degraded, a.Reason)
			assert.False(a.Equal(b), "Values outside of the loaded regions are compared as they are.")
			assert.True(a.Equal(n.Normalize(Record{Key: "f()", Kind: KindFunction, Address: 0x401800, Content: test.old})))
		})
	}
}

func TestNormalizeVirtualTableReference(t *testing.T) {
	assert := assert.New(t)

	// lea rax, [rip+vtable+0x10]; ret
	ctor := func(pc, vtable uint64) Record {
		code := le32([]byte{0x48, 0x8d, 0x05}, vtable+0x10-(pc+7))
		code = append(code, 0xc3)
		return Record{Key: "Test::Test()", Kind: KindInstanceMember, Address: pc, Size: uint64(len(code)), Content: code}
	}
	idx, err := BuildIndex(Old, []Record{
		ctor(0x1000, 0x5000),
		{Key: "vtable for Test", Kind: KindType, Address: 0x5000, Size: 0x20},
		{Key: "vtable for Base", Kind: KindType, Address: 0x5020, Size: 0x20},
	})
	require.NoError(t, err)
	n := NewNormalizer(ArchAMD64, idx)

	form := n.Normalize(ctor(0x1000, 0x5000))
	assert.Contains(string(form.Data), "<vtable for Test>+0x10")
	assert.False(form.Equal(n.Normalize(ctor(0x1000, 0x5020))), "Installing another virtual table is a change.")
}

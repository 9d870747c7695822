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
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

const arm64InstLen = 4

func decodeARM64(n *Normalizer, rec Record) ([]instruction, error) {
	buf := rec.Content
	insts := make([]instruction, 0, len(buf)/arm64InstLen)
	var pages pageRegs
	for s := 0; s < len(buf); s += arm64InstLen {
		if len(buf)-s < arm64InstLen {
			// A truncated tail can only be padding.
			for _, b := range buf[s:] {
				if b != 0 {
					return nil, fmt.Errorf("truncated instruction at offset %#x", s)
				}
			}
			break
		}
		if isZero(buf[s : s+arm64InstLen]) {
			// udf #0 is what linkers fill alignment gaps with.
			insts = append(insts, instruction{text: "udf", padding: true})
			continue
		}
		pc := rec.Address + uint64(s)
		inst, err := arm64asm.Decode(buf[s:])
		if err != nil {
			return nil, fmt.Errorf("decoding instruction at offset %#x: %w", s, err)
		}
		insts = append(insts, instruction{
			text:    n.arm64Text(rec, inst, pc, &pages),
			padding: inst.Op == arm64asm.NOP,
		})
	}
	return insts, nil
}

func (n *Normalizer) arm64Text(rec Record, inst arm64asm.Inst, pc uint64, pages *pageRegs) string {
	// Global addresses are built from an adrp page and the low 12 bits added
	// by an add or encoded in a load or store offset.
	lo12 := -1
	var target uint64
	if off, ok := pageOffset(inst.Enc); ok {
		if page, ok := pages.get(inst.Enc >> 5 & 0x1f); ok {
			lo12 = len(inst.Args) - 1
			for lo12 > 0 && inst.Args[lo12] == nil {
				lo12--
			}
			target = page + off
		}
	}

	var sb strings.Builder
	sb.WriteString(inst.Op.String())
	for i, arg := range inst.Args {
		if arg == nil {
			break
		}
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		if i == lo12 {
			ref := n.reference(rec, target, "lo12")
			if m, ok := arg.(arm64asm.MemImmediate); ok {
				ref = "[" + m.Base.String() + "," + ref + "]"
			}
			sb.WriteString(ref)
			continue
		}
		rel, ok := arg.(arm64asm.PCRel)
		switch {
		case !ok:
			sb.WriteString(arg.String())
		case inst.Op == arm64asm.ADRP:
			// The page address alone doesn't identify a symbol. The low bits
			// are added by a following instruction.
			sb.WriteString("page?")
		default:
			sb.WriteString(n.reference(rec, uint64(int64(pc)+int64(rel)), "rel"))
		}
	}

	switch inst.Op {
	case arm64asm.ADRP:
		if rel, ok := inst.Args[1].(arm64asm.PCRel); ok {
			pages.set(inst.Enc&0x1f, pc&^0xfff+uint64(int64(rel)))
		}
	case arm64asm.BL, arm64asm.BLR:
		// Calls clobber the argument and scratch registers.
		pages.reset()
	default:
		pages.clear(inst.Enc & 0x1f)
	}
	return sb.String()
}

// pageOffset decodes the low address bits of "add Xd, Xn, #imm" and of loads
// and stores with an unsigned immediate offset.
func pageOffset(enc uint32) (uint64, bool) {
	imm := uint64(enc >> 10 & 0xfff)
	switch {
	case enc&0xff800000 == 0x91000000:
		if enc&(1<<22) != 0 {
			imm <<= 12
		}
		return imm, true
	case enc&0x3b000000 == 0x39000000:
		scale := enc >> 30
		if enc&(1<<26) != 0 && enc&(1<<23) != 0 && scale == 0 {
			// 128 bit SIMD register.
			scale = 4
		}
		return imm << scale, true
	}
	return 0, false
}

// pageRegs tracks the registers holding a page address loaded by adrp.
type pageRegs struct {
	page  [31]uint64
	valid uint32
}

func (p *pageRegs) get(r uint32) (uint64, bool) {
	if r >= 31 || p.valid&(1<<r) == 0 {
		return 0, false
	}
	return p.page[r], true
}

func (p *pageRegs) set(r uint32, page uint64) {
	if r < 31 {
		p.page[r] = page
		p.valid |= 1 << r
	}
}

func (p *pageRegs) clear(r uint32) {
	p.valid &^= 1 << r
}

func (p *pageRegs) reset() {
	p.valid = 0
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

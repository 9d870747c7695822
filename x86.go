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

	"golang.org/x/arch/x86/x86asm"
)

func decodeX86(mode int) decoder {
	return func(n *Normalizer, rec Record) ([]instruction, error) {
		buf := rec.Content
		insts := make([]instruction, 0, len(buf)/4)
		s := 0
		for s < len(buf) {
			inst, err := x86asm.Decode(buf[s:], mode)
			if err != nil {
				return nil, fmt.Errorf("decoding instruction at offset %#x: %w", s, err)
			}
			// Update next instruction location. Relative operands are
			// relative to the end of the instruction.
			s = s + inst.Len
			next := rec.Address + uint64(s)

			insts = append(insts, instruction{
				text:    n.x86Text(rec, inst, next),
				padding: inst.Op == x86asm.INT3 || inst.Op == x86asm.NOP,
			})
		}
		return insts, nil
	}
}

func (n *Normalizer) x86Text(rec Record, inst x86asm.Inst, next uint64) string {
	var sb strings.Builder
	for _, p := range inst.Prefix {
		if p == 0 {
			break
		}
		// Implicit prefixes are part of the opcode and REX is reflected in
		// the operand registers.
		if p&x86asm.PrefixImplicit != 0 || p&0xf0 == 0x40 {
			continue
		}
		fmt.Fprintf(&sb, "%#x ", uint16(p))
	}
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

		switch a := arg.(type) {
		case x86asm.Rel:
			sb.WriteString(n.reference(rec, uint64(int64(next)+int64(a)), "rel"))

		case x86asm.Mem:
			sb.WriteString(n.x86Mem(rec, inst, a, next))

		case x86asm.Imm:
			// Absolute addresses are loaded as immediates in 32 bit code
			// and by "mov r64, imm64".
			if addr := n.absolute(int64(a)); n.mapped(addr) {
				sb.WriteString(n.reference(rec, addr, "imm"))
			} else {
				fmt.Fprintf(&sb, "$%#x", uint64(a))
			}

		default:
			sb.WriteString(arg.String())
		}
	}
	return sb.String()
}

func (n *Normalizer) x86Mem(rec Record, inst x86asm.Inst, m x86asm.Mem, next uint64) string {
	var sb strings.Builder
	if inst.MemBytes > 0 {
		fmt.Fprintf(&sb, "m%d ", inst.MemBytes*8)
	}
	if m.Segment != 0 {
		sb.WriteString(m.Segment.String())
		sb.WriteByte(':')
	}

	switch {
	case m.Base == x86asm.RIP || m.Base == x86asm.EIP:
		// If the addressing is based on the instruction pointer, resolve
		// the address it points to.
		sb.WriteByte('[')
		sb.WriteString(n.reference(rec, uint64(int64(next)+m.Disp), "rip"))
		sb.WriteByte(']')
		return sb.String()

	case m.Base == 0 && m.Index == 0 && m.Segment == 0:
		// Direct addressing.
		sb.WriteByte('[')
		sb.WriteString(n.reference(rec, n.absolute(m.Disp), "abs"))
		sb.WriteByte(']')
		return sb.String()
	}

	sb.WriteByte('[')
	if m.Base != 0 {
		sb.WriteString(m.Base.String())
	}
	if m.Index != 0 {
		fmt.Fprintf(&sb, "+%s*%d", m.Index, m.Scale)
	}
	switch {
	case m.Disp == 0:
	case m.Segment == 0 && (m.Base == 0 || n.mapped(n.absolute(m.Disp))):
		// Without a base register the displacement is the address of a
		// table or an array. With one it may still be.
		sb.WriteByte('+')
		sb.WriteString(n.reference(rec, n.absolute(m.Disp), "abs"))
	default:
		fmt.Fprintf(&sb, "%+#x", m.Disp)
	}
	sb.WriteByte(']')
	return sb.String()
}

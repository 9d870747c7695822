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
	"encoding/binary"
	"strings"
)

const dwOpAddr = 0x03

// debugInfo is what the DWARF data tells about the symbols.
type debugInfo struct {
	// classes holds the qualified names of all classes, structs and unions.
	classes map[string]bool
	// staticMethods holds the qualified names of member functions without
	// an object pointer.
	staticMethods map[string]bool
	// files maps the addresses of functions and variables to the file they
	// are declared in.
	files map[uint64]string
}

func (d *debugInfo) isClass(name string) bool {
	return d != nil && d.classes[name]
}

func (d *debugInfo) isStaticMethod(name string) bool {
	return d != nil && d.staticMethods[name]
}

func (d *debugInfo) sourceFile(addr uint64) string {
	if d == nil {
		return ""
	}
	return d.files[addr]
}

// DWARF entry plus any associated children
type dwarfEntryPlus struct {
	entry    *dwarf.Entry
	children []*dwarfEntryPlus
}

func readDebugInfo(data *dwarf.Data, order binary.ByteOrder) (*debugInfo, error) {
	info := &debugInfo{
		classes:       make(map[string]bool),
		staticMethods: make(map[string]bool),
		files:         make(map[uint64]string),
	}

	r := data.Reader()
	for {
		cu, err := dwarfReadEntry(r)
		if err != nil {
			return nil, err
		}
		if cu == nil {
			break
		}
		w := &dwarfWalker{info: info, order: order}
		w.cuName, _ = cu.entry.Val(dwarf.AttrName).(string)
		if lr, err := data.LineReader(cu.entry); err == nil && lr != nil {
			w.files = lr.Files()
		}
		for _, c := range cu.children {
			w.walk(c, nil, false)
		}
	}
	return info, nil
}

type dwarfWalker struct {
	info   *debugInfo
	order  binary.ByteOrder
	cuName string
	files  []*dwarf.LineFile
}

func (w *dwarfWalker) walk(e *dwarfEntryPlus, scope []string, inClass bool) {
	name, _ := e.entry.Val(dwarf.AttrName).(string)

	switch e.entry.Tag {
	case dwarf.TagNamespace:
		if name == "" {
			name = "(anonymous namespace)"
		}
		w.walkChildren(e, append(scope, name), false)
		return

	case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType:
		if name == "" {
			return
		}
		scope = append(scope, name)
		w.info.classes[strings.Join(scope, "::")] = true
		w.walkChildren(e, scope, true)
		return

	case dwarf.TagSubprogram:
		if inClass && name != "" && !hasObjectPointer(e) {
			w.info.staticMethods[qualify(scope, name)] = true
		}
		if lowpc, ok := e.entry.Val(dwarf.AttrLowpc).(uint64); ok {
			w.info.files[lowpc] = w.fileOf(e.entry)
		}

	case dwarf.TagVariable:
		if addr, ok := w.location(e.entry); ok {
			w.info.files[addr] = w.fileOf(e.entry)
		}
	}
	w.walkChildren(e, scope, false)
}

func (w *dwarfWalker) walkChildren(e *dwarfEntryPlus, scope []string, inClass bool) {
	for _, c := range e.children {
		// Copy the scope, siblings must not see each other's names.
		w.walk(c, scope[:len(scope):len(scope)], inClass)
	}
}

func (w *dwarfWalker) fileOf(entry *dwarf.Entry) string {
	idx, ok := entry.Val(dwarf.AttrDeclFile).(int64)
	if ok && idx >= 0 && int(idx) < len(w.files) && w.files[idx] != nil {
		return w.files[idx].Name
	}
	return w.cuName
}

// location decodes a location that is a plain address.
func (w *dwarfWalker) location(entry *dwarf.Entry) (uint64, bool) {
	loc, ok := entry.Val(dwarf.AttrLocation).([]byte)
	if !ok || len(loc) == 0 || loc[0] != dwOpAddr {
		return 0, false
	}
	switch len(loc) - 1 {
	case 4:
		return uint64(w.order.Uint32(loc[1:])), true
	case 8:
		return w.order.Uint64(loc[1:]), true
	}
	return 0, false
}

func hasObjectPointer(e *dwarfEntryPlus) bool {
	if e.entry.AttrField(dwarf.AttrObjectPointer) != nil {
		return true
	}
	for _, c := range e.children {
		if c.entry.Tag != dwarf.TagFormalParameter {
			continue
		}
		if artificial, _ := c.entry.Val(dwarf.AttrArtificial).(bool); artificial {
			return true
		}
	}
	return false
}

func qualify(scope []string, name string) string {
	if len(scope) == 0 {
		return name
	}
	return strings.Join(scope, "::") + "::" + name
}

func dwarfReadEntry(r *dwarf.Reader) (*dwarfEntryPlus, error) {
	entry, err := r.Next()
	if err != nil || entry == nil {
		return nil, err
	}
	e := &dwarfEntryPlus{entry: entry}
	if entry.Children {
		e.children, err = dwarfReadChildren(r)
	}
	return e, err
}

func dwarfReadChildren(r *dwarf.Reader) ([]*dwarfEntryPlus, error) {
	var ret []*dwarfEntryPlus
	for {
		e, err := dwarfReadEntry(r)
		if err != nil {
			return nil, err
		}
		if e == nil || e.entry.Tag == 0 {
			return ret, nil
		}
		ret = append(ret, e)
	}
}

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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// demangler turns symbol table names into readable names.
type demangler struct {
	enabled bool
	// table holds names read from a mangling file.
	table map[string]string
}

func newDemangler(o options) (*demangler, error) {
	d := &demangler{enabled: o.demangle}
	if o.manglingFile == "" {
		return d, nil
	}
	f, err := os.Open(o.manglingFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open mangling file: %w", err)
	}
	defer f.Close()
	d.table, err = readManglingFile(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read mangling file %s: %w", o.manglingFile, err)
	}
	return d, nil
}

// readManglingFile parses pairs of lines. The first line of a pair is the
// mangled name, the second one the demangled name.
func readManglingFile(r io.Reader) (map[string]string, error) {
	table := make(map[string]string)
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var mangled string
	odd := false
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !odd {
			mangled = line
		} else {
			table[mangled] = line
		}
		odd = !odd
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if odd {
		return nil, fmt.Errorf("mangled name %q without demangled name", mangled)
	}
	return table, nil
}

func (d *demangler) name(mangled string) string {
	if n, ok := d.table[mangled]; ok {
		return n
	}
	if !d.enabled {
		return mangled
	}
	return demangle.Filter(mangled)
}

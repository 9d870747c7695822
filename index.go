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
	"cmp"
	"fmt"
	"slices"
	"sort"
)

// Resolver maps an address to the symbol containing it.
type Resolver interface {
	// Resolve returns the identity key of the symbol that contains addr and
	// the offset of addr into that symbol.
	Resolve(addr uint64) (key string, off uint64, ok bool)
}

// Index holds the records of one binary keyed by identity key.
type Index struct {
	side    Side
	records []Record
	byKey   map[string]int
	// byAddr holds positions into records, sorted by address.
	byAddr  []int
	maxSize uint64
}

var _ Resolver = (*Index)(nil)

// BuildIndex indexes the records of one binary. If two records share an
// identity key, a *DuplicateKeyError is returned and no index is built.
func BuildIndex(side Side, records []Record) (*Index, error) {
	idx := &Index{
		side:    side,
		records: make([]Record, len(records)),
		byKey:   make(map[string]int, len(records)),
	}
	copy(idx.records, records)

	slices.SortStableFunc(idx.records, func(a, b Record) int {
		return cmp.Compare(a.Key, b.Key)
	})

	for i := range idx.records {
		idx.records[i].Side = side
		r := idx.records[i]
		if r.Key == "" {
			return nil, fmt.Errorf("%s binary, symbol at %#x: %w", side, r.Address, ErrEmptyKey)
		}
		if i > 0 && idx.records[i-1].Key == r.Key {
			// The stable sort keeps colliding records in input order.
			return nil, &DuplicateKeyError{Side: side, Key: r.Key, First: idx.records[i-1], Second: r}
		}
		idx.byKey[r.Key] = i

		// Types only have an address if they carry storage, like virtual
		// tables.
		if r.Address == 0 {
			continue
		}
		idx.byAddr = append(idx.byAddr, i)
		if r.Size > idx.maxSize {
			idx.maxSize = r.Size
		}
	}

	// Symbols sharing an address are ordered by descending key so that a
	// backwards scan meets them in ascending key order.
	slices.SortStableFunc(idx.byAddr, func(a, b int) int {
		ra, rb := &idx.records[a], &idx.records[b]
		if c := cmp.Compare(ra.Address, rb.Address); c != 0 {
			return c
		}
		return cmp.Compare(rb.Key, ra.Key)
	})
	return idx, nil
}

// Side returns the binary the index was built for.
func (idx *Index) Side() Side {
	return idx.side
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Lookup returns the record with the given identity key.
func (idx *Index) Lookup(key string) (Record, bool) {
	i, ok := idx.byKey[key]
	if !ok {
		return Record{}, false
	}
	return idx.records[i], true
}

// Keys returns all identity keys in ascending order.
func (idx *Index) Keys() []string {
	keys := make([]string, len(idx.records))
	for i, r := range idx.records {
		keys[i] = r.Key
	}
	return keys
}

// Records returns all records ordered by identity key. The returned slice
// must not be modified.
func (idx *Index) Records() []Record {
	return idx.records
}

// Resolve returns the symbol containing addr. Symbols without a size only
// match their exact address.
func (idx *Index) Resolve(addr uint64) (string, uint64, bool) {
	n := sort.Search(len(idx.byAddr), func(i int) bool {
		return idx.records[idx.byAddr[i]].Address > addr
	})
	for i := n - 1; i >= 0; i-- {
		r := &idx.records[idx.byAddr[i]]
		off := addr - r.Address
		if off < r.Size || (off == 0 && r.Size == 0) {
			return r.Key, off, true
		}
		if off > idx.maxSize {
			break
		}
	}
	return "", 0, false
}

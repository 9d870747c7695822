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

// Pair is a symbol present in both binaries.
type Pair struct {
	Old Record
	New Record
}

// Key returns the identity key shared by both records.
func (p Pair) Key() string {
	return p.Old.Key
}

// Matching partitions the keys of two indices.
type Matching struct {
	// Pairs holds the symbols found in both binaries.
	Pairs []Pair
	// OldOnly holds the keys only found in the old binary.
	OldOnly []string
	// NewOnly holds the keys only found in the new binary.
	NewOnly []string
}

// Match pairs the records of two indices by identity key. All returned lists
// are sorted by key.
func Match(old, new *Index) *Matching {
	m := newMatching(old.Len(), new.Len())

	// Both key lists are sorted, so a single merge pass is enough.
	oldRecs, newRecs := old.Records(), new.Records()
	i, j := 0, 0
	for i < len(oldRecs) && j < len(newRecs) {
		o, n := oldRecs[i], newRecs[j]
		switch {
		case o.Key == n.Key:
			m.Pairs = append(m.Pairs, Pair{Old: o, New: n})
			i++
			j++
		case o.Key < n.Key:
			m.OldOnly = append(m.OldOnly, o.Key)
			i++
		default:
			m.NewOnly = append(m.NewOnly, n.Key)
			j++
		}
	}
	for ; i < len(oldRecs); i++ {
		m.OldOnly = append(m.OldOnly, oldRecs[i].Key)
	}
	for ; j < len(newRecs); j++ {
		m.NewOnly = append(m.NewOnly, newRecs[j].Key)
	}
	return m
}

func newMatching(nOld, nNew int) *Matching {
	return &Matching{
		Pairs:   make([]Pair, 0, min(nOld, nNew)),
		OldOnly: make([]string, 0),
		NewOnly: make([]string, 0),
	}
}

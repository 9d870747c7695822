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
	"slices"
)

// KindChange describes the kinds of a symbol that changed its kind.
type KindChange struct {
	From Kind `json:"from"`
	To   Kind `json:"to"`
}

// Entry is one symbol listed in a report category.
type Entry struct {
	Key  string `json:"key"`
	Kind Kind   `json:"kind"`
	// SizeDelta is the size in the new binary minus the size in the old
	// binary. Added symbols contribute their size, removed symbols the
	// negated size.
	SizeDelta int64 `json:"sizeDelta"`
	// Digest is the digest of the new canonical form. It is only set for
	// changed symbols.
	Digest string `json:"digest,omitempty"`
	// KindChange is only set for symbols that changed their kind.
	KindChange *KindChange `json:"kindChange,omitempty"`
	// Degraded is set if the symbol was compared byte by byte.
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// OldSize and NewSize are the sizes in both binaries.
	OldSize uint64 `json:"oldSize"`
	NewSize uint64 `json:"newSize"`
}

// Category holds all symbols that received the same verdict.
type Category struct {
	Verdict Verdict `json:"verdict"`
	// Entries are ordered by ascending identity key.
	Entries []Entry `json:"entries"`
	// SizeDelta is the sum of the size deltas of all entries.
	SizeDelta int64 `json:"sizeDelta"`
}

// Len returns the number of entries in the category.
func (c *Category) Len() int {
	return len(c.Entries)
}

// Keys returns the identity keys of the category in ascending order.
func (c *Category) Keys() []string {
	keys := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Migration is a symbol that is compiled from a different source file in the
// new binary.
type Migration struct {
	Key     string `json:"key"`
	OldFile string `json:"oldFile"`
	NewFile string `json:"newFile"`
}

// BinaryInfo describes one of the two compared binaries.
type BinaryInfo struct {
	Path     string `json:"path,omitempty"`
	Arch     Arch   `json:"arch,omitempty"`
	BuildID  string `json:"buildId,omitempty"`
	Revision string `json:"revision,omitempty"`
	// Records is the number of records that were compared.
	Records int `json:"records"`
	// Excluded is the number of records dropped by the symbol selection.
	Excluded int `json:"excluded"`
}

// Report is the aggregated result of a comparison.
type Report struct {
	Categories map[Verdict]*Category `json:"categories"`
	// Similar lists removed and added symbols that look like renames.
	Similar []SimilarPair `json:"similar,omitempty"`
	// Migrated lists persisting or changed symbols whose source file changed.
	Migrated []Migration `json:"migrated,omitempty"`
	// DegradedCount is the number of pairs that were compared byte by byte.
	DegradedCount int `json:"degradedCount"`

	Old BinaryInfo `json:"old"`
	New BinaryInfo `json:"new"`
}

// Aggregate groups outcomes into report categories. The outcomes must not
// contain the same key twice.
func Aggregate(outcomes []Outcome) *Report {
	r := &Report{Categories: make(map[Verdict]*Category, len(Verdicts))}
	for _, v := range Verdicts {
		r.Categories[v] = &Category{Verdict: v, Entries: []Entry{}}
	}

	for _, o := range outcomes {
		c := r.Category(o.Verdict)
		e := Entry{
			Key:       o.Key,
			Kind:      o.Kind,
			SizeDelta: o.SizeDelta(),
			Degraded:  o.Degraded,
			Reason:    o.Reason,
			OldSize:   o.OldSize,
			NewSize:   o.NewSize,
		}
		switch o.Verdict {
		case Changed:
			e.Digest = CanonicalForm{Digest: o.NewDigest}.DigestString()
		case KindChanged:
			e.KindChange = &KindChange{From: o.OldKind, To: o.NewKind}
		}
		c.Entries = append(c.Entries, e)
		c.SizeDelta += e.SizeDelta
		if o.Degraded {
			r.DegradedCount++
		}
		if o.Migrated() {
			r.Migrated = append(r.Migrated, Migration{Key: o.Key, OldFile: o.OldSourceFile, NewFile: o.NewSourceFile})
		}
	}

	for _, c := range r.Categories {
		slices.SortFunc(c.Entries, func(a, b Entry) int {
			return cmp.Compare(a.Key, b.Key)
		})
	}
	slices.SortFunc(r.Migrated, func(a, b Migration) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return r
}

// Category returns the category for the verdict. It never returns nil.
func (r *Report) Category(v Verdict) *Category {
	if c, ok := r.Categories[v]; ok {
		return c
	}
	if r.Categories == nil {
		r.Categories = make(map[Verdict]*Category, len(Verdicts))
	}
	c := &Category{Verdict: v, Entries: []Entry{}}
	r.Categories[v] = c
	return c
}

// Counts returns the number of symbols per verdict.
func (r *Report) Counts() map[Verdict]int {
	counts := make(map[Verdict]int, len(Verdicts))
	for _, v := range Verdicts {
		counts[v] = r.Category(v).Len()
	}
	return counts
}

// Total returns the number of classified identity keys.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Len()
	}
	return n
}

// SizeDelta returns the size difference of the whole binary as seen through
// its symbols.
func (r *Report) SizeDelta() int64 {
	var d int64
	for _, c := range r.Categories {
		d += c.SizeDelta
	}
	return d
}

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
	"encoding/hex"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultSimilarityThreshold is the minimum score of a similar pair.
const DefaultSimilarityThreshold = 0.5

// Candidate is a removed or added symbol considered for rename detection.
type Candidate struct {
	Key  string
	Kind Kind
	Size uint64
	Form CanonicalForm
}

// SimilarPair is a removed and an added symbol with similar content.
type SimilarPair struct {
	Removed string `json:"removed"`
	Added   string `json:"added"`
	// Score is 1 for identical canonical forms and approaches 0 the more
	// edits are needed to turn one into the other.
	Score float64 `json:"score"`
}

// FindSimilar pairs removed and added symbols of the same kind whose
// canonical forms score at least threshold. Every symbol appears in at most
// one pair; higher scores win. The result is ordered by removed key.
func FindSimilar(removed, added []Candidate, threshold float64) []SimilarPair {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 100 * time.Millisecond

	var scored []SimilarPair
	for _, r := range removed {
		if len(r.Form.Data) == 0 {
			continue
		}
		rText := similarityText(r.Form.Data)
		for _, a := range added {
			if a.Kind != r.Kind || len(a.Form.Data) == 0 {
				continue
			}
			var score float64
			if r.Form.Digest == a.Form.Digest && r.Form.Equal(a.Form) {
				score = 1
			} else {
				aText := similarityText(a.Form.Data)
				if upperBound(rText, aText) < threshold {
					continue
				}
				score = similarity(dmp, rText, aText)
			}
			if score >= threshold {
				scored = append(scored, SimilarPair{Removed: r.Key, Added: a.Key, Score: score})
			}
		}
	}

	slices.SortFunc(scored, func(a, b SimilarPair) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Removed, b.Removed); c != 0 {
			return c
		}
		return cmp.Compare(a.Added, b.Added)
	})

	usedRemoved := make(map[string]bool)
	usedAdded := make(map[string]bool)
	var pairs []SimilarPair
	for _, p := range scored {
		if usedRemoved[p.Removed] || usedAdded[p.Added] {
			continue
		}
		usedRemoved[p.Removed] = true
		usedAdded[p.Added] = true
		pairs = append(pairs, p)
	}
	slices.SortFunc(pairs, func(a, b SimilarPair) int {
		return cmp.Compare(a.Removed, b.Removed)
	})
	return pairs
}

// similarityText returns data as a string diffmatchpatch can work on without
// folding invalid bytes into replacement characters.
func similarityText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return hex.EncodeToString(data)
}

// upperBound is the best score two texts of the given lengths can reach.
func upperBound(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	return float64(min(la, lb)) / float64(max(la, lb))
}

func similarity(dmp *diffmatchpatch.DiffMatchPatch, a, b string) float64 {
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(longest)
}

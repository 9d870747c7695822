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
)

// Verdict is the outcome of the comparison of one identity key.
type Verdict uint8

const (
	// Persisting symbols exist in both binaries with the same content.
	Persisting Verdict = iota
	// Changed symbols exist in both binaries but their content differs.
	Changed
	// Added symbols only exist in the new binary.
	Added
	// Removed symbols only exist in the old binary.
	Removed
	// KindChanged symbols exist in both binaries as different kinds of
	// entities, for example a variable that became a function.
	KindChanged
)

// Verdicts lists all verdicts in report order.
var Verdicts = []Verdict{Persisting, Changed, Added, Removed, KindChanged}

var verdictNames = [...]string{
	Persisting:  "persisting",
	Changed:     "changed",
	Added:       "added",
	Removed:     "removed",
	KindChanged: "kind-changed",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", uint8(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(b []byte) error {
	for i, n := range verdictNames {
		if strings.EqualFold(n, string(b)) {
			*v = Verdict(i)
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", string(b))
}

// Outcome is the classification of one identity key.
type Outcome struct {
	Key     string
	Verdict Verdict
	// Kind is the kind of the new record, or of the only record for added
	// and removed symbols.
	Kind    Kind
	OldKind Kind
	NewKind Kind
	// OldSize and NewSize are zero for the missing side.
	OldSize uint64
	NewSize uint64
	// OldDigest and NewDigest are the digests of the canonical forms. They
	// are only set for compared pairs.
	OldDigest uint64
	NewDigest uint64
	// Degraded is set if at least one side was compared byte by byte.
	Degraded bool
	Reason   string

	OldSourceFile string
	NewSourceFile string
}

// SizeDelta returns the size difference between the new and the old record.
// A missing record counts as zero bytes.
func (o Outcome) SizeDelta() int64 {
	return int64(o.NewSize) - int64(o.OldSize)
}

// Migrated reports whether the symbol is known to be compiled from another
// source file in the new binary.
func (o Outcome) Migrated() bool {
	return o.OldSourceFile != "" && o.NewSourceFile != "" && o.OldSourceFile != o.NewSourceFile
}

// Classifier assigns verdicts to matched pairs and unmatched records.
type Classifier struct {
	old *Normalizer
	new *Normalizer
}

// NewClassifier returns a classifier that normalizes old records with oldNorm
// and new records with newNorm. A nil normalizer compares raw bytes.
func NewClassifier(oldNorm, newNorm *Normalizer) *Classifier {
	if oldNorm == nil {
		oldNorm = NewNormalizer(ArchUnknown, nil)
	}
	if newNorm == nil {
		newNorm = NewNormalizer(ArchUnknown, nil)
	}
	return &Classifier{old: oldNorm, new: newNorm}
}

// Classify compares the two records of a pair.
func (c *Classifier) Classify(p Pair) Outcome {
	if p.Old.Kind != p.New.Kind {
		return c.ClassifyForms(p, CanonicalForm{}, CanonicalForm{})
	}
	return c.ClassifyForms(p, c.old.Normalize(p.Old), c.new.Normalize(p.New))
}

// ClassifyForms classifies a pair from canonical forms computed beforehand.
// The forms are ignored if the kinds of the records differ.
func (c *Classifier) ClassifyForms(p Pair, oldForm, newForm CanonicalForm) Outcome {
	o := Outcome{
		Key:           p.Key(),
		Kind:          p.New.Kind,
		OldKind:       p.Old.Kind,
		NewKind:       p.New.Kind,
		OldSize:       p.Old.Size,
		NewSize:       p.New.Size,
		OldSourceFile: p.Old.SourceFile,
		NewSourceFile: p.New.SourceFile,
	}

	if p.Old.Kind != p.New.Kind {
		o.Verdict = KindChanged
		return o
	}

	o.OldDigest = oldForm.Digest
	o.NewDigest = newForm.Digest
	o.Degraded = oldForm.Degraded || newForm.Degraded
	o.Reason = joinReasons(oldForm, newForm)

	switch {
	case len(p.Old.Content) == 0 && len(p.New.Content) == 0:
		o.Verdict = Persisting
	case oldForm.Equal(newForm):
		o.Verdict = Persisting
	default:
		o.Verdict = Changed
	}
	return o
}

// ClassifyUnmatched classifies a record that only exists in one binary.
func (c *Classifier) ClassifyUnmatched(rec Record) Outcome {
	o := Outcome{Key: rec.Key, Kind: rec.Kind}
	if rec.Side == Old {
		o.Verdict = Removed
		o.OldKind = rec.Kind
		o.OldSize = rec.Size
		o.OldSourceFile = rec.SourceFile
	} else {
		o.Verdict = Added
		o.NewKind = rec.Kind
		o.NewSize = rec.Size
		o.NewSourceFile = rec.SourceFile
	}
	return o
}

func joinReasons(oldForm, newForm CanonicalForm) string {
	switch {
	case oldForm.Degraded && newForm.Degraded:
		if oldForm.Reason == newForm.Reason {
			return oldForm.Reason
		}
		return "old: " + oldForm.Reason + "; new: " + newForm.Reason
	case oldForm.Degraded:
		return "old: " + oldForm.Reason
	case newForm.Degraded:
		return "new: " + newForm.Reason
	}
	return ""
}

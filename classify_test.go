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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictText(t *testing.T) {
	assert := assert.New(t)
	for _, v := range Verdicts {
		b, err := v.MarshalText()
		assert.NoError(err)

		var got Verdict
		assert.NoError(got.UnmarshalText(b))
		assert.Equal(v, got)
	}
	assert.Equal("kind-changed", KindChanged.String())

	var v Verdict
	assert.Error(v.UnmarshalText([]byte("renamed")))
}

func TestClassify(t *testing.T) {
	bytesRec := func(side Side, kind Kind, size uint64, content ...byte) Record {
		return Record{Key: "sym", Kind: kind, Side: side, Address: 0x1000, Size: size, Content: content}
	}

	tests := []struct {
		name     string
		old, new Record
		verdict  Verdict
		degraded bool
	}{
		{
			name:    "same data",
			old:     bytesRec(Old, KindVariable, 4, 1, 2, 3, 4),
			new:     bytesRec(New, KindVariable, 4, 1, 2, 3, 4),
			verdict: Persisting,
		},
		{
			name:    "different data",
			old:     bytesRec(Old, KindVariable, 4, 1, 2, 3, 4),
			new:     bytesRec(New, KindVariable, 4, 1, 2, 3, 5),
			verdict: Changed,
		},
		{
			name:    "no content on both sides",
			old:     bytesRec(Old, KindVariable, 64),
			new:     bytesRec(New, KindVariable, 128),
			verdict: Persisting,
		},
		{
			name:    "content only on one side",
			old:     bytesRec(Old, KindVariable, 4),
			new:     bytesRec(New, KindVariable, 4, 1, 0, 0, 0),
			verdict: Changed,
		},
		{
			name:    "kind changed",
			old:     bytesRec(Old, KindVariable, 4, 1, 2, 3, 4),
			new:     bytesRec(New, KindFunction, 4, 1, 2, 3, 4),
			verdict: KindChanged,
		},
		{
			name:     "code without decoder",
			old:      bytesRec(Old, KindFunction, 2, 0x55, 0xc3),
			new:      bytesRec(New, KindFunction, 2, 0x55, 0xc3),
			verdict:  Persisting,
			degraded: true,
		},
	}
	c := NewClassifier(nil, nil)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			o := c.Classify(Pair{Old: test.old, New: test.new})
			assert.Equal("sym", o.Key)
			assert.Equal(test.verdict, o.Verdict)
			assert.Equal(test.degraded, o.Degraded)
			assert.Equal(test.old.Kind, o.OldKind)
			assert.Equal(test.new.Kind, o.NewKind)
			assert.Equal(int64(test.new.Size)-int64(test.old.Size), o.SizeDelta())
			if test.degraded {
				assert.NotEmpty(o.Reason)
			}
		})
	}
}

func TestClassifyKindChangeIgnoresForms(t *testing.T) {
	assert := assert.New(t)
	c := NewClassifier(nil, nil)
	form := newForm([]byte("same"))
	o := c.ClassifyForms(Pair{
		Old: Record{Key: "x", Kind: KindVariable},
		New: Record{Key: "x", Kind: KindConstant},
	}, form, form)
	assert.Equal(KindChanged, o.Verdict)
	assert.Zero(o.OldDigest)
	assert.Zero(o.NewDigest)
}

func TestClassifyUnmatched(t *testing.T) {
	assert := assert.New(t)
	c := NewClassifier(nil, nil)

	gone := c.ClassifyUnmatched(Record{Key: "fIAmGone()", Kind: KindFunction, Side: Old, Size: 32, SourceFile: "a.cpp"})
	assert.Equal(Removed, gone.Verdict)
	assert.Equal(int64(-32), gone.SizeDelta())
	assert.Equal("a.cpp", gone.OldSourceFile)
	assert.False(gone.Migrated())

	added := c.ClassifyUnmatched(Record{Key: "fIAmNew()", Kind: KindFunction, Side: New, Size: 16})
	assert.Equal(Added, added.Verdict)
	assert.Equal(KindFunction, added.Kind)
	assert.Equal(int64(16), added.SizeDelta())
}

func TestOutcomeMigrated(t *testing.T) {
	assert := assert.New(t)
	assert.True(Outcome{OldSourceFile: "a.cpp", NewSourceFile: "b.cpp"}.Migrated())
	assert.False(Outcome{OldSourceFile: "a.cpp", NewSourceFile: "a.cpp"}.Migrated())
	assert.False(Outcome{OldSourceFile: "", NewSourceFile: "b.cpp"}.Migrated(), "An unknown file is not a migration.")
}

func TestJoinReasons(t *testing.T) {
	assert := assert.New(t)
	d := func(r string) CanonicalForm { return CanonicalForm{Degraded: true, Reason: r} }
	assert.Equal("", joinReasons(CanonicalForm{}, CanonicalForm{}))
	assert.Equal("x", joinReasons(d("x"), d("x")))
	assert.Equal("old: x; new: y", joinReasons(d("x"), d("y")))
	assert.Equal("new: y", joinReasons(CanonicalForm{}, d("y")))
	assert.Equal("old: x", joinReasons(d("x"), CanonicalForm{}))
}

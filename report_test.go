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

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	assert := assert.New(t)

	outcomes := []Outcome{
		{Key: "vIStay", Verdict: Persisting, Kind: KindVariable, OldSize: 4, NewSize: 4},
		{Key: "fIStayButDiffer()", Verdict: Changed, Kind: KindFunction, OldSize: 16, NewSize: 24, NewDigest: 0xabc},
		{Key: "fIAmNew()", Verdict: Added, Kind: KindFunction, NewSize: 8},
		{Key: "fIAmGone()", Verdict: Removed, Kind: KindFunction, OldSize: 12},
		{Key: "x", Verdict: KindChanged, Kind: KindFunction, OldKind: KindVariable, NewKind: KindFunction, OldSize: 4, NewSize: 4},
		{Key: "fIStay(double)", Verdict: Persisting, Kind: KindFunction, OldSize: 10, NewSize: 10,
			Degraded: true, Reason: "no instruction decoder", OldSourceFile: "a.cpp", NewSourceFile: "b.cpp"},
	}
	r := Aggregate(outcomes)

	want := map[Verdict]*Category{
		Persisting: {Verdict: Persisting, Entries: []Entry{
			{Key: "fIStay(double)", Kind: KindFunction, Degraded: true, Reason: "no instruction decoder", OldSize: 10, NewSize: 10},
			{Key: "vIStay", Kind: KindVariable, OldSize: 4, NewSize: 4},
		}},
		Changed: {Verdict: Changed, SizeDelta: 8, Entries: []Entry{
			{Key: "fIStayButDiffer()", Kind: KindFunction, SizeDelta: 8, Digest: "0000000000000abc", OldSize: 16, NewSize: 24},
		}},
		Added: {Verdict: Added, SizeDelta: 8, Entries: []Entry{
			{Key: "fIAmNew()", Kind: KindFunction, SizeDelta: 8, NewSize: 8},
		}},
		Removed: {Verdict: Removed, SizeDelta: -12, Entries: []Entry{
			{Key: "fIAmGone()", Kind: KindFunction, SizeDelta: -12, OldSize: 12},
		}},
		KindChanged: {Verdict: KindChanged, Entries: []Entry{
			{Key: "x", Kind: KindFunction, KindChange: &KindChange{From: KindVariable, To: KindFunction}, OldSize: 4, NewSize: 4},
		}},
	}
	if diff := cmp.Diff(want, r.Categories); diff != "" {
		t.Errorf("Aggregate() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(len(outcomes), r.Total())
	assert.Equal(int64(4), r.SizeDelta())
	assert.Equal(1, r.DegradedCount)
	assert.Equal([]Migration{{Key: "fIStay(double)", OldFile: "a.cpp", NewFile: "b.cpp"}}, r.Migrated)
	assert.Equal(map[Verdict]int{Persisting: 2, Changed: 1, Added: 1, Removed: 1, KindChanged: 1}, r.Counts())
	assert.Equal([]string{"fIStay(double)", "vIStay"}, r.Category(Persisting).Keys())
}

func TestAggregateEmpty(t *testing.T) {
	assert := assert.New(t)
	r := Aggregate(nil)
	for _, v := range Verdicts {
		c := r.Category(v)
		assert.NotNil(c)
		assert.NotNil(c.Entries, "Empty categories should encode as empty lists.")
		assert.Zero(c.Len())
	}
	assert.Zero(r.Total())
	assert.Zero(r.SizeDelta())
	assert.Empty(r.Migrated)

	var zero Report
	assert.NotNil(zero.Category(Added), "Category should never return nil.")
}

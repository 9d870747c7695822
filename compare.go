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
	"context"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// Compare classifies every symbol of the old and the new binary. It fails if
// either record set contains a duplicate identity key, in which case no
// report is produced.
func Compare(ctx context.Context, oldRecs, newRecs []Record, opts ...Option) (*Report, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	start := time.Now()

	oldRecs, oldExcluded := o.selection[Old].Filter(oldRecs)
	newRecs, newExcluded := o.selection[New].Filter(newRecs)

	// Both indices are independent; matching has to wait for both.
	var oldIdx, newIdx *Index
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		oldIdx, err = BuildIndex(Old, oldRecs)
		return err
	})
	g.Go(func() (err error) {
		newIdx, err = BuildIndex(New, newRecs)
		return err
	})
	if err := g.Wait(); err != nil {
		level.Error(logger).Log("msg", "failed to build symbol index", "err", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := Match(oldIdx, newIdx)
	level.Debug(logger).Log(
		"msg", "matched symbols",
		"pairs", len(m.Pairs),
		"old_only", len(m.OldOnly),
		"new_only", len(m.NewOnly),
	)

	oldNorm := NewNormalizer(o.arch, oldIdx, o.regions[Old]...)
	newNorm := NewNormalizer(o.arch, newIdx, o.regions[New]...)
	classifier := NewClassifier(oldNorm, newNorm)

	// Every task writes to its own slot, nothing else is shared.
	oldForms := make([]CanonicalForm, len(m.Pairs))
	newForms := make([]CanonicalForm, len(m.Pairs))
	var removed, added []Candidate
	if o.similarity {
		removed = make([]Candidate, len(m.OldOnly))
		added = make([]Candidate, len(m.NewOnly))
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, p := range m.Pairs {
		if p.Old.Kind != p.New.Kind {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			oldForms[i] = oldNorm.Normalize(p.Old)
			newForms[i] = newNorm.Normalize(p.New)
			return nil
		})
	}
	if o.similarity {
		normalizeCandidates(gctx, g, oldIdx, oldNorm, m.OldOnly, removed)
		normalizeCandidates(gctx, g, newIdx, newNorm, m.NewOnly, added)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(m.Pairs)+len(m.OldOnly)+len(m.NewOnly))
	for i, p := range m.Pairs {
		out := classifier.ClassifyForms(p, oldForms[i], newForms[i])
		if out.Degraded {
			level.Debug(logger).Log("msg", "compared symbol byte by byte", "key", out.Key, "reason", out.Reason)
		}
		outcomes = append(outcomes, out)
	}
	for _, k := range m.OldOnly {
		rec, _ := oldIdx.Lookup(k)
		outcomes = append(outcomes, classifier.ClassifyUnmatched(rec))
	}
	for _, k := range m.NewOnly {
		rec, _ := newIdx.Lookup(k)
		outcomes = append(outcomes, classifier.ClassifyUnmatched(rec))
	}

	report := Aggregate(outcomes)
	report.Old = BinaryInfo{Arch: o.arch, Records: oldIdx.Len(), Excluded: oldExcluded}
	report.New = BinaryInfo{Arch: o.arch, Records: newIdx.Len(), Excluded: newExcluded}
	if o.similarity {
		report.Similar = FindSimilar(removed, added, o.threshold)
	}

	counts := report.Counts()
	level.Info(logger).Log(
		"msg", "comparison finished",
		"persisting", counts[Persisting],
		"changed", counts[Changed],
		"added", counts[Added],
		"removed", counts[Removed],
		"kind_changed", counts[KindChanged],
		"degraded", report.DegradedCount,
		"duration", time.Since(start),
	)
	return report, nil
}

func normalizeCandidates(ctx context.Context, g *errgroup.Group, idx *Index, n *Normalizer, keys []string, dst []Candidate) {
	for i, k := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, _ := idx.Lookup(k)
			dst[i] = Candidate{Key: rec.Key, Kind: rec.Kind, Size: rec.Size, Form: n.Normalize(rec)}
			return nil
		})
	}
}

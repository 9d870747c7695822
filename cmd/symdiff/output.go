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

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"github.com/goretk/symdiff"
)

// signedBytes formats a size delta with an explicit sign.
func signedBytes(d int64) string {
	switch {
	case d > 0:
		return "+" + humanize.Bytes(uint64(d))
	case d < 0:
		return "-" + humanize.Bytes(uint64(-d))
	}
	return "0 B"
}

func describe(info symdiff.BinaryInfo) string {
	s := info.Path
	if info.Arch != symdiff.ArchUnknown {
		s += " (" + string(info.Arch) + ")"
	}
	if info.Revision != "" {
		s += " @ " + info.Revision
	}
	return s
}

func printSummary(w io.Writer, r *symdiff.Report) error {
	if _, err := fmt.Fprintf(w, "old: %s, %d symbols, %d excluded\nnew: %s, %d symbols, %d excluded\n\n",
		describe(r.Old), r.Old.Records, r.Old.Excluded,
		describe(r.New), r.New.Records, r.New.Excluded); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Symbols", "Size delta"})
	for _, v := range symdiff.Verdicts {
		c := r.Category(v)
		table.Append([]string{v.String(), strconv.Itoa(c.Len()), signedBytes(c.SizeDelta)})
	}
	table.SetFooter([]string{"total", strconv.Itoa(r.Total()), signedBytes(r.SizeDelta())})
	table.Render()

	if r.DegradedCount > 0 {
		_, err := fmt.Fprintf(w, "%d symbols were compared byte by byte\n", r.DegradedCount)
		return err
	}
	return nil
}

func printCategories(w io.Writer, r *symdiff.Report, skipPersistingSameSize bool) {
	for _, v := range symdiff.Verdicts {
		c := r.Category(v)
		if c.Len() == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", v)
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Symbol", "Kind", "Old size", "New size", "Delta", "Note"})
		table.SetAutoWrapText(false)
		for _, e := range c.Entries {
			if v == symdiff.Persisting && skipPersistingSameSize && e.SizeDelta == 0 {
				continue
			}
			table.Append([]string{
				e.Key,
				kindText(e),
				strconv.FormatUint(e.OldSize, 10),
				strconv.FormatUint(e.NewSize, 10),
				strconv.FormatInt(e.SizeDelta, 10),
				noteText(e),
			})
		}
		table.Render()
	}

	if len(r.Similar) > 0 {
		fmt.Fprintf(w, "\nsimilar:\n")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Removed", "Added", "Score"})
		for _, p := range r.Similar {
			table.Append([]string{p.Removed, p.Added, strconv.FormatFloat(p.Score, 'f', 2, 64)})
		}
		table.Render()
	}

	if len(r.Migrated) > 0 {
		fmt.Fprintf(w, "\nmigrated:\n")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Symbol", "Old file", "New file"})
		for _, m := range r.Migrated {
			table.Append([]string{m.Key, m.OldFile, m.NewFile})
		}
		table.Render()
	}
}

func kindText(e symdiff.Entry) string {
	if e.KindChange != nil {
		return e.KindChange.From.String() + " -> " + e.KindChange.To.String()
	}
	return e.Kind.String()
}

func noteText(e symdiff.Entry) string {
	switch {
	case e.Degraded:
		return "raw: " + e.Reason
	case e.Digest != "":
		return e.Digest
	}
	return ""
}

func writeJSON(path string, stdout io.Writer, r *symdiff.Report) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

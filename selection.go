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

	"github.com/grafana/regexp"
)

// Selection restricts a comparison to a subset of the symbols. A record is
// selected if its key or its name matches the include expression, when one
// is set, and doesn't match the exclude expression.
type Selection struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// NewSelection compiles the include and exclude expressions. Empty
// expressions are ignored.
func NewSelection(include, exclude string) (*Selection, error) {
	s := &Selection{}
	var err error
	if include != "" {
		if s.include, err = regexp.Compile(include); err != nil {
			return nil, fmt.Errorf("%w: symbol selection: %w", ErrInvalidConfig, err)
		}
	}
	if exclude != "" {
		if s.exclude, err = regexp.Compile(exclude); err != nil {
			return nil, fmt.Errorf("%w: symbol exclusion: %w", ErrInvalidConfig, err)
		}
	}
	return s, nil
}

// Selects reports whether the record is part of the selection. A nil
// selection selects everything.
func (s *Selection) Selects(rec Record) bool {
	if s == nil {
		return true
	}
	if s.include != nil && !matches(s.include, rec) {
		return false
	}
	return s.exclude == nil || !matches(s.exclude, rec)
}

// Filter returns the selected records and the number of dropped ones. The
// input is not modified.
func (s *Selection) Filter(records []Record) ([]Record, int) {
	if s == nil || (s.include == nil && s.exclude == nil) {
		return records, 0
	}
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if s.Selects(r) {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}

func matches(re *regexp.Regexp, rec Record) bool {
	return re.MatchString(rec.Key) || (rec.Name != "" && re.MatchString(rec.Name))
}

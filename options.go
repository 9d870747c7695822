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
	"github.com/go-kit/log"
)

// DefaultWorkers is the default number of records normalized concurrently.
const DefaultWorkers = 10

// Option configures a comparison run.
type Option func(*options)

type options struct {
	logger    log.Logger
	arch      Arch
	workers   int
	selection [2]*Selection
	regions   [2][]Region

	similarity bool
	threshold  float64
}

func defaultOptions() options {
	return options{
		logger:    log.NewNopLogger(),
		workers:   DefaultWorkers,
		threshold: DefaultSimilarityThreshold,
	}
}

// WithLogger sets the logger used to report progress.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithArch sets the architecture of both binaries. Without it code is
// compared byte by byte.
func WithArch(arch Arch) Option {
	return func(o *options) {
		o.arch = arch
	}
}

// WithWorkers sets the number of records normalized concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSelection restricts the records of one side to the selection.
func WithSelection(side Side, s *Selection) Option {
	return func(o *options) {
		o.selection[side] = s
	}
}

// WithSimilarity enables rename detection for removed and added symbols.
// Pairs scoring below threshold are not reported.
func WithSimilarity(threshold float64) Option {
	return func(o *options) {
		o.similarity = true
		if threshold > 0 {
			o.threshold = threshold
		}
	}
}

// WithRegions sets the loaded address ranges of one side. Addresses into
// them that no symbol covers are masked instead of compared.
func WithRegions(side Side, regions []Region) Option {
	return func(o *options) {
		o.regions[side] = regions
	}
}

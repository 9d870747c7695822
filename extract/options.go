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

package extract

import "github.com/go-kit/log"

// Option configures how a file is read.
type Option func(*options)

type options struct {
	logger       log.Logger
	demangle     bool
	manglingFile string
	debugInfo    bool
}

func defaultOptions() options {
	return options{
		logger:    log.NewNopLogger(),
		demangle:  true,
		debugInfo: true,
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithManglingFile reads symbol names from a file with alternating lines of
// mangled and demangled names. Names listed in the file take precedence over
// the demangler.
func WithManglingFile(path string) Option {
	return func(o *options) {
		o.manglingFile = path
	}
}

// WithoutDemangling keeps the names as they appear in the symbol table.
func WithoutDemangling() Option {
	return func(o *options) {
		o.demangle = false
	}
}

// WithoutDebugInfo skips reading DWARF. Records have no source file and
// member functions can't be told apart from free functions.
func WithoutDebugInfo() Option {
	return func(o *options) {
		o.debugInfo = false
	}
}

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
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is matched by every DuplicateKeyError.
	ErrDuplicateKey = errors.New("duplicate identity key")
	// ErrEmptyKey is returned when a record without an identity key is indexed.
	ErrEmptyKey = errors.New("empty identity key")
	// ErrIncompatibleBinaries is returned if the two binaries can't be compared,
	// for example because they were built for different architectures.
	ErrIncompatibleBinaries = errors.New("incompatible binaries")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")
)

// DuplicateKeyError is returned when two records of the same binary share an
// identity key. It is fatal for the whole comparison run.
type DuplicateKeyError struct {
	// Side is the binary that produced the conflicting records.
	Side Side
	// Key is the offending identity key.
	Key string
	// First is the record that was indexed first.
	First Record
	// Second is the record that collided with First.
	Second Record
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s binary: duplicate identity key %q (%s at %#x, %s at %#x)",
		e.Side, e.Key, e.First.Kind, e.First.Address, e.Second.Kind, e.Second.Address)
}

// Is makes errors.Is(err, ErrDuplicateKey) work.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

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

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevision(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(err)
	wt, err := repo.Worktree()
	require.NoError(err)

	src := filepath.Join(dir, "src")
	require.NoError(os.MkdirAll(src, 0o755))
	require.NoError(os.WriteFile(filepath.Join(src, "test.cpp"), []byte("int vIStay = 18;\n"), 0o644))
	_, err = wt.Add("src/test.cpp")
	require.NoError(err)
	hash, err := wt.Commit("Add test program", &git.CommitOptions{
		Author: &object.Signature{Name: "GoRE Authors", Email: "gore@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(err)

	rev, err := Revision(dir)
	assert.NoError(err)
	assert.Equal(hash.String(), rev)

	rev, err = Revision(src)
	assert.NoError(err, "The repository should be found from a subdirectory.")
	assert.Equal(hash.String(), rev)
}

func TestRevisionNoRepository(t *testing.T) {
	_, err := Revision(t.TempDir())
	assert.ErrorIs(t, err, ErrNoGitRepository)
}

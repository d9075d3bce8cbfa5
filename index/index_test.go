// SPDX-License-Identifier: Apache-2.0
/*
 * dedup: hard-link deduplication for directory trees
 * Copyright (C) 2019-2026 The hardlink-tools Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package index

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardlink-tools/dedup/pkg/fseval"
)

const testBase = "/tree"

func newTestIndex(t *testing.T, fs *fseval.MemFs) *FilesIndex {
	t.Helper()
	x, err := New(fs, testBase, nil)
	require.NoError(t, err)
	return x
}

// admit adds one file and insists the audit holds afterwards, which is the
// first universal property: invariants hold after every admission.
func admit(t *testing.T, x *FilesIndex, path string) FileEntry {
	t.Helper()
	e, err := x.AddFile(path)
	require.NoError(t, err, "admit %s", path)
	require.NoError(t, x.SanityCheck(), "audit after admitting %s", path)
	return e
}

func TestUniqueFiles(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	fs.AddFile("/tree/a", "test")
	fs.AddFile("/tree/b", "asdf1")
	fs.AddFile("/tree/c", "newfile")

	x := newTestIndex(t, fs)
	admit(t, x, "/tree/a")
	admit(t, x, "/tree/b")
	admit(t, x, "/tree/c")

	assert.Equal(3, x.Len())
	assert.Len(x.bySize, 3)
	assert.Len(x.byInode, 3)
	assert.Empty(x.byHash)
	for _, e := range x.Entries() {
		assert.Nil(e.FastHash, "%s should not be hashed", e.RelativePath)
	}
}

func TestEqualSizeDistinctContent(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	fs.AddFile("/tree/a", "test1 asdf asdf")
	fs.AddFile("/tree/b", "test2 asdf asdf")

	x := newTestIndex(t, fs)
	admit(t, x, "/tree/a")
	admit(t, x, "/tree/b")

	a, ok := x.ByPath("a")
	require.True(t, ok)
	b, ok := x.ByPath("b")
	require.True(t, ok)

	require.NotNil(t, a.FastHash)
	require.NotNil(t, b.FastHash)
	assert.NotEqual(*a.FastHash, *b.FastHash)
	assert.NotEqual(a.Inode, b.Inode)
	assert.Len(x.bySize[15], 2)
	assert.Len(x.inodeBySize[15], 2)
}

func TestOneDuplicate(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	fs.AddFile("/tree/a", "asdf")
	fs.AddFile("/tree/b", "asdf")

	inoA, _ := fs.InodeOf("/tree/a")
	inoB, _ := fs.InodeOf("/tree/b")
	require.NotEqual(t, inoA, inoB, "fixture must start with distinct inodes")

	x := newTestIndex(t, fs)
	admit(t, x, "/tree/a")
	admit(t, x, "/tree/b")

	a, _ := x.ByPath("a")
	b, _ := x.ByPath("b")
	require.NotNil(t, a.FastHash)
	require.NotNil(t, b.FastHash)
	assert.Equal(*a.FastHash, *b.FastHash)
	assert.Equal(a.Inode, b.Inode)
	assert.Len(x.inodeBySize[4], 1)

	// The filesystem agrees: one inode behind both names, bytes intact.
	inoA, _ = fs.InodeOf("/tree/a")
	inoB, _ = fs.InodeOf("/tree/b")
	assert.Equal(inoA, inoB)
	assert.Equal("asdf", fs.Contents()["/tree/b"])

	stats := x.Stats()
	assert.Equal(2, stats.Admitted)
	assert.Equal(1, stats.Linked)
	assert.Equal(uint64(4), stats.BytesReclaimed)
}

func TestThreeDuplicates(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	for _, name := range []string{"a", "b", "c"} {
		fs.AddFile("/tree/"+name, "asdf")
	}

	x := newTestIndex(t, fs)
	for _, name := range []string{"a", "b", "c"} {
		admit(t, x, "/tree/"+name)
	}

	assert.Equal(3, x.Len())
	assert.Len(x.byInode, 1)
	assert.Len(x.byHash, 1)
	assert.Len(x.byRelativePath, 3)

	var inodes []uint64
	for _, name := range []string{"a", "b", "c"} {
		ino, ok := fs.InodeOf("/tree/" + name)
		require.True(t, ok)
		inodes = append(inodes, ino)
	}
	assert.Equal(inodes[0], inodes[1])
	assert.Equal(inodes[0], inodes[2])
}

func TestPersistAndReload(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	for _, name := range []string{"a", "b", "c"} {
		fs.AddFile("/tree/"+name, "asdf")
	}

	x := newTestIndex(t, fs)
	for _, name := range []string{"a", "b", "c"} {
		admit(t, x, "/tree/"+name)
	}
	require.NoError(t, x.Save())

	y, err := Load(fs, testBase, nil)
	require.NoError(t, err)
	require.NoError(t, y.SanityCheck())
	assert.Equal(x.Entries(), y.Entries())

	a, ok := y.ByPath("a")
	require.True(t, ok)
	require.NotNil(t, a.FastHash)
	for _, name := range []string{"b", "c"} {
		e, ok := y.ByPath(name)
		require.True(t, ok)
		assert.Equal(a.Inode, e.Inode)
		require.NotNil(t, e.FastHash)
		assert.Equal(*a.FastHash, *e.FastHash)
	}

	// Re-admitting every path against the reloaded index is a no-op.
	before := y.Entries()
	for _, name := range []string{"a", "b", "c"} {
		admit(t, y, "/tree/"+name)
	}
	assert.Equal(before, y.Entries())
	assert.Equal(0, y.Stats().Linked)
}

func TestStress(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	x := newTestIndex(t, fs)
	for i := 0; i < 199; i++ {
		path := fmt.Sprintf("/tree/f%03d", i)
		fs.AddFile(path, strings.Repeat(fmt.Sprintf("file_%d", i%42), i%3))
		admit(t, x, path)
	}

	assert.Len(x.byRelativePath, 199)
	assert.Len(x.byInode, 29)
	assert.Len(x.byHash, 29)

	// Every multi-inode size bucket honours the hashing obligation (the
	// audit already proved this; spot-check the shape anyway).
	for size, inodes := range x.inodeBySize {
		if len(inodes) < 2 {
			continue
		}
		for slot := range x.bySize[size] {
			assert.NotNil(x.entries[slot].FastHash)
		}
	}
}

func TestIdempotentAdmission(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	fs.AddFile("/tree/a", "content a")
	fs.AddFile("/tree/b", "content b")
	fs.AddFile("/tree/dup", "content a")

	x := newTestIndex(t, fs)
	for _, p := range []string{"/tree/a", "/tree/b", "/tree/dup"} {
		admit(t, x, p)
	}
	before := x.Entries()

	for _, p := range []string{"/tree/a", "/tree/b", "/tree/dup"} {
		admit(t, x, p)
	}
	assert.Equal(before, x.Entries())
	assert.Equal(1, x.Stats().Linked, "re-admission must not link again")
}

func TestTouchedFileIsRehashed(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	fs.AddFile("/tree/a", "equal bytes")
	fs.AddFile("/tree/b", "equal bytes")

	x := newTestIndex(t, fs)
	admit(t, x, "/tree/a")
	admit(t, x, "/tree/b")
	a, _ := x.ByPath("a")
	require.NotNil(t, a.FastHash)
	oldHash := *a.FastHash

	// Touch without modifying: the conservative choice re-hashes, and the
	// digest comes out the same.
	require.True(t, fs.Touch("/tree/a"))
	admit(t, x, "/tree/a")
	a, _ = x.ByPath("a")
	require.NotNil(t, a.FastHash)
	assert.Equal(oldHash, *a.FastHash)

	// Rewrite through the link with same-size different bytes: the re-hash
	// must pick up the new content for every entry of the inode.
	require.NoError(t, fs.WriteFile("/tree/a", []byte("EQUAL BYTES")))
	admit(t, x, "/tree/a")
	a, _ = x.ByPath("a")
	b, _ := x.ByPath("b")
	require.NotNil(t, a.FastHash)
	require.NotNil(t, b.FastHash)
	assert.NotEqual(oldHash, *a.FastHash)
	assert.Equal(*a.FastHash, *b.FastHash, "inode siblings must stay coherent")
}

func TestPathEscapeRejected(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	fs.AddFile("/outside", "boo")
	fs.AddFile("/tree/in", "ok")

	x := newTestIndex(t, fs)
	_, err := x.AddFile("/outside")
	assert.ErrorIs(err, ErrPathEscape)

	// A failed admission leaves no trace.
	assert.Equal(0, x.Len())
	require.NoError(t, x.SanityCheck())
}

func TestVanishedFileSkipped(t *testing.T) {
	assert := assert.New(t)

	fs := fseval.NewMemFs()
	x := newTestIndex(t, fs)
	_, err := x.AddFile("/tree/ghost")
	assert.Error(err)
	assert.Equal(0, x.Len())
}

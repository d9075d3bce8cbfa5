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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardlink-tools/dedup/pkg/fseval"
)

// hookFs lets a test fail or distort individual operations while everything
// else passes through to the in-memory filesystem.
type hookFs struct {
	fseval.FsEval
	linkErr      error
	metadataHook func(path string, meta fseval.Metadata) fseval.Metadata
}

func (h *hookFs) Link(target, linkname string) error {
	if h.linkErr != nil {
		return h.linkErr
	}
	return h.FsEval.Link(target, linkname)
}

func (h *hookFs) Metadata(path string) (fseval.Metadata, error) {
	meta, err := h.FsEval.Metadata(path)
	if err == nil && h.metadataHook != nil {
		meta = h.metadataHook(path, meta)
	}
	return meta, err
}

func TestLinkFailureRollsBack(t *testing.T) {
	assert := assert.New(t)

	mem := fseval.NewMemFs()
	mem.AddFile("/tree/a", "same bytes")
	mem.AddFile("/tree/b", "same bytes")
	fs := &hookFs{FsEval: mem}

	x, err := New(fs, testBase, nil)
	require.NoError(t, err)
	admit(t, x, "/tree/a")

	boom := errors.New("link refused")
	fs.linkErr = boom
	_, err = x.AddFile("/tree/b")
	assert.ErrorIs(err, boom)

	// Rollback restored the original name; no backup lingers, no bytes lost.
	contents := mem.Contents()
	assert.Equal("same bytes", contents["/tree/b"])
	assert.NotContains(contents, "/tree/b"+BackupSuffix)

	// The failed admission left the index consistent and without b.
	require.NoError(t, x.SanityCheck())
	_, ok := x.ByPath("b")
	assert.False(ok)

	// Once the filesystem behaves again the duplicate is linked after all.
	fs.linkErr = nil
	admit(t, x, "/tree/b")
	inoA, _ := mem.InodeOf("/tree/a")
	inoB, _ := mem.InodeOf("/tree/b")
	assert.Equal(inoA, inoB)
}

func TestPostLinkMismatchKeepsBackup(t *testing.T) {
	assert := assert.New(t)

	mem := fseval.NewMemFs()
	mem.AddFile("/tree/a", "same bytes")
	mem.AddFile("/tree/b", "same bytes")
	fs := &hookFs{FsEval: mem}

	x, err := New(fs, testBase, nil)
	require.NoError(t, err)
	admit(t, x, "/tree/a")
	a, _ := x.ByPath("a")

	// Lie about the inode of the freshly linked name.
	fs.metadataHook = func(path string, meta fseval.Metadata) fseval.Metadata {
		if path == "/tree/b" && meta.Inode == a.Inode {
			meta.Inode = a.Inode + 1000
		}
		return meta
	}

	_, err = x.AddFile("/tree/b")
	assert.ErrorIs(err, ErrConsistency)

	// The backup is deliberately retained: never destroy bytes.
	contents := mem.Contents()
	assert.Equal("same bytes", contents["/tree/b"+BackupSuffix])
	require.NoError(t, x.SanityCheck())
}

func TestDryRunTouchesNothing(t *testing.T) {
	assert := assert.New(t)

	mem := fseval.NewMemFs()
	mem.AddFile("/tree/a", "same bytes")
	mem.AddFile("/tree/b", "same bytes")
	before := mem.Contents()
	inoBefore, _ := mem.InodeOf("/tree/b")

	x, err := New(fseval.ReadOnly(mem), testBase, &Options{ReadOnly: true})
	require.NoError(t, err)
	admit(t, x, "/tree/a")
	admit(t, x, "/tree/b")

	// The duplicate was recognised and counted, but nothing moved.
	stats := x.Stats()
	assert.Equal(1, stats.Linked)
	assert.Equal(uint64(10), stats.BytesReclaimed)
	assert.Equal(before, mem.Contents())
	inoAfter, _ := mem.InodeOf("/tree/b")
	assert.Equal(inoBefore, inoAfter)

	// Both entries keep their own inode in the dry-run index.
	a, _ := x.ByPath("a")
	b, _ := x.ByPath("b")
	assert.NotEqual(a.Inode, b.Inode)
	require.NotNil(t, a.FastHash)
	require.NotNil(t, b.FastHash)
	assert.Equal(*a.FastHash, *b.FastHash)
}

func TestVerifyModeChecksContent(t *testing.T) {
	assert := assert.New(t)

	mem := fseval.NewMemFs()
	mem.AddFile("/tree/a", "same bytes")
	mem.AddFile("/tree/b", "same bytes")

	x, err := New(mem, testBase, &Options{Verify: true})
	require.NoError(t, err)
	admit(t, x, "/tree/a")
	admit(t, x, "/tree/b")

	inoA, _ := mem.InodeOf("/tree/a")
	inoB, _ := mem.InodeOf("/tree/b")
	assert.Equal(inoA, inoB)
	assert.NotContains(mem.Contents(), "/tree/b"+BackupSuffix)
}

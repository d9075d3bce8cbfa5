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
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hardlink-tools/dedup/pkg/fseval"
	"github.com/hardlink-tools/dedup/pkg/streamhash"
)

// ErrPathEscape is returned when a discovered path cannot be made relative
// to the index's base directory.
var ErrPathEscape = errors.New("path escapes base directory")

// FileEntry is an immutable snapshot of one regular file's identity at a
// point in time. Entries are handed around by value; updating a file means
// replacing its entry in the index, never mutating one in place.
type FileEntry struct {
	// RelativePath is the path relative to the index's base directory. It is
	// the identity key within one index.
	RelativePath string

	// Size is the file length in bytes.
	Size uint64

	// Inode is the opaque inode identifier reported by the filesystem.
	Inode uint64

	Modified time.Time
	Accessed time.Time
	Created  time.Time

	// FastHash is the 128-bit content digest, present only once the file has
	// been hashed during this run or loaded from a prior index. Two entries
	// sharing (Size, FastHash) with both hashes present describe
	// byte-identical files.
	FastHash *streamhash.Digest
}

// newFileEntry snapshots path via fs. path may be absolute or relative to
// fs's working directory; it must resolve to somewhere beneath basePath,
// which is assumed to be canonical already.
func newFileEntry(fs fseval.FsEval, basePath, path string) (FileEntry, error) {
	abs, err := fs.Canonicalize(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("canonicalize %q: %w", path, err)
	}
	rel, err := filepath.Rel(basePath, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return FileEntry{}, fmt.Errorf("%q outside %q: %w", abs, basePath, ErrPathEscape)
	}
	meta, err := fs.Metadata(abs)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		RelativePath: rel,
		Size:         meta.Size,
		Inode:        meta.Inode,
		Modified:     meta.Modified,
		Accessed:     meta.Accessed,
		Created:      meta.Created,
	}, nil
}

// withHash returns a copy of e carrying d as its content hash.
func (e FileEntry) withHash(d streamhash.Digest) FileEntry {
	e.FastHash = &d
	return e
}

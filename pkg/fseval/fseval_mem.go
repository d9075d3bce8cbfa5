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

package fseval

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MemFs is an in-memory FsEval for tests. It maintains a (path -> inode)
// table next to the (inode -> bytes) table so that hard-link and rename
// semantics can be asserted without touching the host filesystem: Link makes
// two paths share one inode record, Rename moves a path without changing its
// inode.
//
// Timestamps come from a deterministic logical clock that advances by one
// second on every AddFile, Touch and WriteFile (Link, Remove and Rename leave
// it alone), so tests can rely on exact modification times.
type MemFs struct {
	cwd     string
	nextIno uint64
	clock   time.Time
	paths   map[string]uint64
	inodes  map[uint64]*memInode
}

type memInode struct {
	data     []byte
	modified time.Time
	accessed time.Time
	created  time.Time
}

var _ FsEval = &MemFs{}

// NewMemFs returns an empty in-memory filesystem rooted at "/".
func NewMemFs() *MemFs {
	return &MemFs{
		cwd:     "/",
		nextIno: 1,
		clock:   time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		paths:   make(map[string]uint64),
		inodes:  make(map[uint64]*memInode),
	}
}

// SetCwd changes the directory non-rooted paths resolve against.
func (m *MemFs) SetCwd(dir string) {
	m.cwd = filepath.Clean(dir)
}

// AddFile creates (or replaces) path with content under a fresh inode.
func (m *MemFs) AddFile(path, content string) {
	ino := m.nextIno
	m.nextIno++
	now := m.tick()
	m.inodes[ino] = &memInode{
		data:     []byte(content),
		modified: now,
		accessed: now,
		created:  now,
	}
	m.paths[m.resolve(path)] = ino
}

// InodeOf reports the inode behind path, for test assertions.
func (m *MemFs) InodeOf(path string) (uint64, bool) {
	ino, ok := m.paths[m.resolve(path)]
	return ino, ok
}

// Touch bumps the modification time of path without changing its bytes.
func (m *MemFs) Touch(path string) bool {
	ino, ok := m.paths[m.resolve(path)]
	if !ok {
		return false
	}
	m.inodes[ino].modified = m.tick()
	return true
}

// Contents returns a copy of the (path -> bytes) view of the filesystem.
// Tests snapshot this to assert that no admission sequence loses data.
func (m *MemFs) Contents() map[string]string {
	out := make(map[string]string, len(m.paths))
	for path, ino := range m.paths {
		out[path] = string(m.inodes[ino].data)
	}
	return out
}

func (m *MemFs) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *MemFs) resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.cwd, path)
	}
	return filepath.Clean(path)
}

// Open opens path for reading.
func (m *MemFs) Open(path string) (io.ReadCloser, error) {
	ino, ok := m.paths[m.resolve(path)]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(m.inodes[ino].data)), nil
}

// Canonicalize resolves path against the in-memory working directory. MemFs
// has no symlinks, so resolution is purely lexical.
func (m *MemFs) Canonicalize(path string) (string, error) {
	return m.resolve(path), nil
}

// Metadata stats path.
func (m *MemFs) Metadata(path string) (Metadata, error) {
	ino, ok := m.paths[m.resolve(path)]
	if !ok {
		return Metadata{}, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}
	node := m.inodes[ino]
	return Metadata{
		Size:     uint64(len(node.data)),
		Inode:    ino,
		Modified: node.modified,
		Accessed: node.accessed,
		Created:  node.created,
	}, nil
}

// Link makes linkname a second name for target's inode.
func (m *MemFs) Link(target, linkname string) error {
	ino, ok := m.paths[m.resolve(target)]
	if !ok {
		return &os.LinkError{Op: "link", Old: target, New: linkname, Err: os.ErrNotExist}
	}
	ln := m.resolve(linkname)
	if _, exists := m.paths[ln]; exists {
		return &os.LinkError{Op: "link", Old: target, New: linkname, Err: os.ErrExist}
	}
	m.paths[ln] = ino
	return nil
}

// Remove unlinks path. The inode survives as long as other names point at it.
func (m *MemFs) Remove(path string) error {
	p := m.resolve(path)
	if _, ok := m.paths[p]; !ok {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}
	delete(m.paths, p)
	return nil
}

// Rename moves from to to, preserving the inode and overwriting to.
func (m *MemFs) Rename(from, to string) error {
	f := m.resolve(from)
	ino, ok := m.paths[f]
	if !ok {
		return &os.LinkError{Op: "rename", Old: from, New: to, Err: os.ErrNotExist}
	}
	delete(m.paths, f)
	m.paths[m.resolve(to)] = ino
	return nil
}

// WriteFile creates or truncates path. Truncation keeps the inode, matching
// O_TRUNC semantics: the new bytes are visible through every hard link.
func (m *MemFs) WriteFile(path string, data []byte) error {
	p := m.resolve(path)
	now := m.tick()
	if ino, ok := m.paths[p]; ok {
		node := m.inodes[ino]
		node.data = append([]byte(nil), data...)
		node.modified = now
		return nil
	}
	ino := m.nextIno
	m.nextIno++
	m.inodes[ino] = &memInode{
		data:     append([]byte(nil), data...),
		modified: now,
		accessed: now,
		created:  now,
	}
	m.paths[p] = ino
	return nil
}

// Walk visits every file under root in sorted path order. MemFs stores no
// explicit directory entries, so only regular files are reported; that is
// all the walker consumes.
func (m *MemFs) Walk(root string, fn filepath.WalkFunc) error {
	r := m.resolve(root)
	prefix := r
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	var files []string
	for path := range m.paths {
		if path == r || strings.HasPrefix(path, prefix) {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	for _, path := range files {
		node := m.inodes[m.paths[path]]
		info := memFileInfo{
			name:    filepath.Base(path),
			size:    int64(len(node.data)),
			modTime: node.modified,
		}
		if err := fn(path, info, nil); err != nil {
			if err == filepath.SkipDir || err == filepath.SkipAll { //nolint:errorlint // sentinel comparison per filepath contract
				return nil
			}
			return err
		}
	}
	return nil
}

type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() any           { return nil }

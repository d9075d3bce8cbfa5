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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Default is the host-filesystem form of FsEval. All operations call directly
// to the relevant os.* and unix.* functions.
var Default FsEval = osFsEval(0)

// osFsEval is a stateless type; its zero value backs Default.
type osFsEval int

// Open is equivalent to os.Open.
func (fs osFsEval) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Canonicalize resolves path against the process working directory and
// evaluates any symlink components.
func (fs osFsEval) Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("make absolute %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", abs, err)
	}
	return resolved, nil
}

// Metadata stats path via unix.Lstat so that inode numbers and nanosecond
// timestamps are available.
func (fs osFsEval) Metadata(path string) (Metadata, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Metadata{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return Metadata{}, fmt.Errorf("metadata %q: %w", path, ErrNotRegularFile)
	}
	return Metadata{
		Size:     uint64(st.Size),
		Inode:    st.Ino,
		Modified: timespecToTime(st.Mtim),
		Accessed: timespecToTime(st.Atim),
		// Stat_t carries no birth time, the inode change time stands in.
		Created: timespecToTime(st.Ctim),
	}, nil
}

// Link hard-links target to linkname. We use linkat(2) with no flags because
// POSIX leaves the symlink-following behaviour of link(2) implementation
// defined.
func (fs osFsEval) Link(target, linkname string) error {
	if err := unix.Linkat(unix.AT_FDCWD, target, unix.AT_FDCWD, linkname, 0); err != nil {
		return &os.LinkError{Op: "link", Old: target, New: linkname, Err: err}
	}
	return nil
}

// Remove is equivalent to os.Remove.
func (fs osFsEval) Remove(path string) error {
	return os.Remove(path)
}

// Rename is equivalent to os.Rename.
func (fs osFsEval) Rename(from, to string) error {
	return os.Rename(from, to)
}

// WriteFile is equivalent to os.WriteFile with mode 0644.
func (fs osFsEval) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// Walk is equivalent to filepath.Walk.
func (fs osFsEval) Walk(root string, fn filepath.WalkFunc) error {
	return filepath.Walk(root, fn)
}

func timespecToTime(ts unix.Timespec) time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.Nsec)) //nolint:unconvert // 32-bit platforms
}

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
	"path/filepath"
)

// ReadOnly wraps an FsEval so that every mutating operation fails with
// ErrReadOnly while all read operations pass through. It backs --dry-run;
// the admission algorithm is structured to never reach a mutator in that
// mode, so an ErrReadOnly surfacing from this wrapper is a programmer error.
func ReadOnly(fs FsEval) FsEval {
	return roFsEval{fs}
}

type roFsEval struct {
	fs FsEval
}

func (ro roFsEval) Open(path string) (io.ReadCloser, error) {
	return ro.fs.Open(path)
}

func (ro roFsEval) Canonicalize(path string) (string, error) {
	return ro.fs.Canonicalize(path)
}

func (ro roFsEval) Metadata(path string) (Metadata, error) {
	return ro.fs.Metadata(path)
}

func (ro roFsEval) Walk(root string, fn filepath.WalkFunc) error {
	return ro.fs.Walk(root, fn)
}

func (ro roFsEval) Link(target, linkname string) error {
	return fmt.Errorf("link %q -> %q: %w", linkname, target, ErrReadOnly)
}

func (ro roFsEval) Remove(path string) error {
	return fmt.Errorf("remove %q: %w", path, ErrReadOnly)
}

func (ro roFsEval) Rename(from, to string) error {
	return fmt.Errorf("rename %q -> %q: %w", from, to, ErrReadOnly)
}

func (ro roFsEval) WriteFile(path string, data []byte) error {
	return fmt.Errorf("write %q: %w", path, ErrReadOnly)
}

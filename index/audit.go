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
)

// ErrCorruptIndex is wrapped by every SanityCheck failure. A failure here is
// a programmer error (or a hand-edited sidecar), never a user error.
var ErrCorruptIndex = errors.New("files index invariant violated")

// SanityCheck walks both directions of every secondary index and asserts the
// index-wide invariants: every entry is reachable under each of its keys,
// every map slot points back at a matching entry, all entries of one inode
// carry the same hash, and every size bucket spanning more than one inode is
// fully hashed. It is called at session boundaries and from tests.
func (x *FilesIndex) SanityCheck() error {
	// Forward: every entry is indexed under each of its keys.
	for slot, e := range x.entries {
		if got, ok := x.byRelativePath[e.RelativePath]; !ok || got != slot {
			return auditErrf("entry %d (%q): by_relative_path maps to %d", slot, e.RelativePath, got)
		}
		if !inSet(x.bySize, e.Size, slot) {
			return auditErrf("entry %d (%q): missing from by_size[%d]", slot, e.RelativePath, e.Size)
		}
		if !inSet(x.byInode, e.Inode, slot) {
			return auditErrf("entry %d (%q): missing from by_inode[%d]", slot, e.RelativePath, e.Inode)
		}
		if !inSet(x.inodeBySize, e.Size, e.Inode) {
			return auditErrf("entry %d (%q): inode %d missing from inode_by_size[%d]", slot, e.RelativePath, e.Inode, e.Size)
		}
		if e.FastHash != nil {
			if !inSet(x.byHash, *e.FastHash, slot) {
				return auditErrf("entry %d (%q): missing from by_hash[%s]", slot, e.RelativePath, e.FastHash)
			}
			if !inSet(x.inodeByHash, *e.FastHash, e.Inode) {
				return auditErrf("entry %d (%q): inode %d missing from inode_by_hash[%s]", slot, e.RelativePath, e.Inode, e.FastHash)
			}
		}
	}

	// Reverse: every map element refers to a live, matching entry.
	if len(x.byRelativePath) != len(x.entries) {
		return auditErrf("by_relative_path has %d keys for %d entries", len(x.byRelativePath), len(x.entries))
	}
	for size, set := range x.bySize {
		for slot := range set {
			if slot < 0 || slot >= len(x.entries) || x.entries[slot].Size != size {
				return auditErrf("by_size[%d]: stale slot %d", size, slot)
			}
		}
	}
	for inode, set := range x.byInode {
		for slot := range set {
			if slot < 0 || slot >= len(x.entries) || x.entries[slot].Inode != inode {
				return auditErrf("by_inode[%d]: stale slot %d", inode, slot)
			}
		}
	}
	for hash, set := range x.byHash {
		for slot := range set {
			if slot < 0 || slot >= len(x.entries) {
				return auditErrf("by_hash[%s]: stale slot %d", hash, slot)
			}
			if e := x.entries[slot]; e.FastHash == nil || *e.FastHash != hash {
				return auditErrf("by_hash[%s]: slot %d carries a different hash", hash, slot)
			}
		}
	}
	for size, inodes := range x.inodeBySize {
		for inode := range inodes {
			if !x.inodeHasEntryWith(inode, func(e FileEntry) bool { return e.Size == size }) {
				return auditErrf("inode_by_size[%d]: stale inode %d", size, inode)
			}
		}
	}
	for hash, inodes := range x.inodeByHash {
		for inode := range inodes {
			h := hash
			if !x.inodeHasEntryWith(inode, func(e FileEntry) bool { return e.FastHash != nil && *e.FastHash == h }) {
				return auditErrf("inode_by_hash[%s]: stale inode %d", hash, inode)
			}
		}
	}

	// Hash coherence: within one inode bucket every entry carries the same
	// hash, present or absent identically.
	for inode, set := range x.byInode {
		var first *FileEntry
		for slot := range set {
			e := x.entries[slot]
			if first == nil {
				first = &e
				continue
			}
			switch {
			case (first.FastHash == nil) != (e.FastHash == nil):
				return auditErrf("inode %d: mixed hashed and unhashed entries", inode)
			case first.FastHash != nil && *first.FastHash != *e.FastHash:
				return auditErrf("inode %d: entries disagree on hash (%s vs %s)", inode, first.FastHash, e.FastHash)
			}
		}
	}

	// Hashing obligation: a size bucket spanning more than one inode must be
	// fully hashed.
	for size, inodes := range x.inodeBySize {
		if len(inodes) < 2 {
			continue
		}
		for slot := range x.bySize[size] {
			if x.entries[slot].FastHash == nil {
				return auditErrf("size %d spans %d inodes but %q has no hash", size, len(inodes), x.entries[slot].RelativePath)
			}
		}
	}

	return nil
}

func (x *FilesIndex) inodeHasEntryWith(inode uint64, pred func(FileEntry) bool) bool {
	for slot := range x.byInode[inode] {
		if pred(x.entries[slot]) {
			return true
		}
	}
	return false
}

func inSet[K comparable, V comparable](m map[K]map[V]struct{}, key K, val V) bool {
	_, ok := m[key][val]
	return ok
}

func auditErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptIndex, fmt.Sprintf(format, args...))
}

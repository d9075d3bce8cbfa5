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

// Package index implements the files index: a multiply-keyed in-memory
// picture of every regular file beneath a base directory, the admission
// algorithm that classifies each new file as already-deduplicated, unique,
// or a duplicate to be hard-linked, and the transactional link operation
// that collapses duplicates without ever destroying bytes.
package index

import (
	"fmt"

	"github.com/hardlink-tools/dedup/pkg/fseval"
	"github.com/hardlink-tools/dedup/pkg/streamhash"
)

// Options configure a FilesIndex.
type Options struct {
	// ReadOnly makes the link transaction a no-op, for dry runs. The index
	// still records every admission in memory.
	ReadOnly bool

	// Verify enables the paranoid SHA-256 content check inside the link
	// transaction: the reserved backup and the freshly linked path must
	// agree before the backup is released.
	Verify bool
}

// Stats accumulates what a run did.
type Stats struct {
	// Admitted counts successful AddFile calls.
	Admitted int

	// Linked counts admissions that collapsed a duplicate onto an existing
	// inode (or would have, in read-only mode).
	Linked int

	// BytesReclaimed is the total size of the files Linked counted.
	BytesReclaimed uint64
}

// FilesIndex owns the entry sequence and every secondary map. An entry's
// position in the sequence is its stable slot id for the run. Entries handed
// out by lookups are copies; the caller never sees index-internal state.
//
// A FilesIndex is not safe for concurrent use. Admissions are sequential and
// every index invariant holds after each one.
type FilesIndex struct {
	fs       fseval.FsEval
	basePath string
	opts     Options
	stats    Stats

	entries        []FileEntry
	byRelativePath map[string]int
	bySize         map[uint64]map[int]struct{}
	byInode        map[uint64]map[int]struct{}
	byHash         map[streamhash.Digest]map[int]struct{}
	inodeBySize    map[uint64]map[uint64]struct{}
	inodeByHash    map[streamhash.Digest]map[uint64]struct{}
}

// New returns an empty index rooted at basePath, which is canonicalized via
// fs. opts may be nil.
func New(fs fseval.FsEval, basePath string, opts *Options) (*FilesIndex, error) {
	base, err := fs.Canonicalize(basePath)
	if err != nil {
		return nil, fmt.Errorf("canonicalize base %q: %w", basePath, err)
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	return &FilesIndex{
		fs:             fs,
		basePath:       base,
		opts:           o,
		byRelativePath: make(map[string]int),
		bySize:         make(map[uint64]map[int]struct{}),
		byInode:        make(map[uint64]map[int]struct{}),
		byHash:         make(map[streamhash.Digest]map[int]struct{}),
		inodeBySize:    make(map[uint64]map[uint64]struct{}),
		inodeByHash:    make(map[streamhash.Digest]map[uint64]struct{}),
	}, nil
}

// FromEntries is the bulk constructor: it rebuilds an index from a
// deserialized entry list and verifies every index invariant over the
// result. The caller (normally Load) is expected to rescan the tree
// afterwards, which brings stats back up to date.
func FromEntries(fs fseval.FsEval, basePath string, entries []FileEntry, opts *Options) (*FilesIndex, error) {
	x, err := New(fs, basePath, opts)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		x.upsert(e)
	}
	if err := x.SanityCheck(); err != nil {
		return nil, err
	}
	return x, nil
}

// BasePath returns the canonicalized root the index describes.
func (x *FilesIndex) BasePath() string {
	return x.basePath
}

// Len returns the number of live entries.
func (x *FilesIndex) Len() int {
	return len(x.entries)
}

// Stats returns the accumulated run statistics.
func (x *FilesIndex) Stats() Stats {
	return x.stats
}

// Entries returns a copy of the entry sequence in slot order.
func (x *FilesIndex) Entries() []FileEntry {
	return append([]FileEntry(nil), x.entries...)
}

// ByPath looks up the entry for a relative path.
func (x *FilesIndex) ByPath(relativePath string) (FileEntry, bool) {
	slot, ok := x.byRelativePath[relativePath]
	if !ok {
		return FileEntry{}, false
	}
	return x.entries[slot], true
}

// upsert inserts e, replacing in place any entry that already occupies
// e.RelativePath's slot. It returns the slot id.
func (x *FilesIndex) upsert(e FileEntry) int {
	if slot, ok := x.byRelativePath[e.RelativePath]; ok {
		x.unmapSlot(slot)
		x.entries[slot] = e
		x.mapSlot(slot)
		return slot
	}
	x.entries = append(x.entries, e)
	slot := len(x.entries) - 1
	x.mapSlot(slot)
	return slot
}

// mapSlot adds the entry at slot to every secondary map.
func (x *FilesIndex) mapSlot(slot int) {
	e := x.entries[slot]
	x.byRelativePath[e.RelativePath] = slot
	addSet(x.bySize, e.Size, slot)
	addSet(x.byInode, e.Inode, slot)
	addSet(x.inodeBySize, e.Size, e.Inode)
	if e.FastHash != nil {
		addSet(x.byHash, *e.FastHash, slot)
		addSet(x.inodeByHash, *e.FastHash, e.Inode)
	}
}

// unmapSlot removes the entry at slot from every secondary map, dropping
// the inode from an aggregation map once no remaining slot backs it there.
// Entries sharing an inode always share size, so inode_by_size only needs
// cleaning when the inode dies; the hash aggregation is checked per-slot
// because a hash refresh walks an inode's slots one at a time.
func (x *FilesIndex) unmapSlot(slot int) {
	e := x.entries[slot]
	delete(x.byRelativePath, e.RelativePath)
	delSet(x.bySize, e.Size, slot)
	delSet(x.byInode, e.Inode, slot)
	if e.FastHash != nil {
		delSet(x.byHash, *e.FastHash, slot)
		hash := *e.FastHash
		stillCarried := x.inodeHasEntryWith(e.Inode, func(o FileEntry) bool {
			return o.FastHash != nil && *o.FastHash == hash
		})
		if !stillCarried {
			delSet(x.inodeByHash, hash, e.Inode)
		}
	}
	if _, inodeLive := x.byInode[e.Inode]; !inodeLive {
		delSet(x.inodeBySize, e.Size, e.Inode)
	}
}

// attachHashToInode records d as the content hash of every entry sharing
// inode, upholding hash coherence within the inode bucket.
func (x *FilesIndex) attachHashToInode(inode uint64, d streamhash.Digest) {
	for _, slot := range setSlots(x.byInode[inode]) {
		e := x.entries[slot]
		if e.FastHash != nil && *e.FastHash == d {
			continue
		}
		x.unmapSlot(slot)
		x.entries[slot] = e.withHash(d)
		x.mapSlot(slot)
	}
}

func addSet[K comparable, V comparable](m map[K]map[V]struct{}, key K, val V) {
	set, ok := m[key]
	if !ok {
		set = make(map[V]struct{})
		m[key] = set
	}
	set[val] = struct{}{}
}

func delSet[K comparable, V comparable](m map[K]map[V]struct{}, key K, val V) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, val)
	if len(set) == 0 {
		delete(m, key)
	}
}

// setSlots snapshots a slot set so it can be iterated while the maps are
// being mutated.
func setSlots(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for slot := range set {
		out = append(out, slot)
	}
	return out
}

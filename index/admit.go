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
	"io"

	"github.com/apex/log"
	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/hardlink-tools/dedup/pkg/streamhash"
)

// AddFile ingests one path and returns the resulting entry. It decides among
// three outcomes -- already deduplicated, unique, duplicate to be linked --
// using the cheapest sufficient evidence, in order: inode, size, streamed
// byte compare, hash.
func (x *FilesIndex) AddFile(path string) (FileEntry, error) {
	e, err := x.addFile(path)
	if err != nil {
		return FileEntry{}, err
	}
	x.stats.Admitted++
	return e, nil
}

func (x *FilesIndex) addFile(path string) (FileEntry, error) {
	e, err := newFileEntry(x.fs, x.basePath, path)
	if err != nil {
		return FileEntry{}, err
	}

	// Inode already known: this is a second name for content the index has
	// already classified. No I/O beyond the stat we just did -- unless the
	// path itself was re-observed with a changed modification time and its
	// entry already carries a hash, in which case we conservatively re-hash
	// and propagate the digest to the whole inode (touch-without-modify
	// costs us a read, silent content rewrites with an unchanged size do not
	// cost correctness).
	if slots, ok := x.byInode[e.Inode]; ok {
		if sib := x.entries[anySlot(slots)]; sib.FastHash != nil {
			e.FastHash = sib.FastHash
		}
		if prev, ok := x.ByPath(e.RelativePath); ok && prev.Inode == e.Inode &&
			prev.FastHash != nil && !prev.Modified.Equal(e.Modified) {
			log.Debugf("index: %s changed mtime with stable size, re-hashing", e.RelativePath)
			d, err := x.sumEntry(e)
			if err != nil {
				return FileEntry{}, err
			}
			x.attachHashToInode(e.Inode, d)
			e.FastHash = &d
		}
		x.upsert(e)
		return e, nil
	}

	// Candidates are same-size entries other than a stale entry for this
	// very path (a file rewritten in place keeps its path but not its
	// inode; it must not be compared against itself).
	candidates := x.sizeCandidates(e)

	// Size unique: provably a new file without reading a byte of content.
	if len(candidates) == 0 {
		x.upsert(e)
		return e, nil
	}

	// Exactly one candidate of the same size: a single full-mode streamed
	// compare settles equality and yields both digests for free.
	if len(candidates) == 1 {
		slot := candidates[0]
		existing := x.entries[slot]
		res, err := x.compareEntries(existing, e)
		if err != nil {
			return FileEntry{}, err
		}
		x.attachHashToInode(existing.Inode, res.A)
		e = e.withHash(res.B)
		if res.Equal {
			return x.link(x.entries[slot], e)
		}
		x.upsert(e)
		return e, nil
	}

	// Two or more candidates: the hashing obligation kicks in. Hash the new
	// file in isolation, then try each candidate inode group, skipping any
	// whose known hash already disagrees.
	d, err := x.sumEntry(e)
	if err != nil {
		return FileEntry{}, err
	}
	e = e.withHash(d)

	for inode, slot := range bucketReps(x.entries, candidates) {
		rep := x.entries[slot]
		if rep.FastHash != nil && *rep.FastHash != d {
			continue
		}
		equal, err := x.entriesEqual(rep, e)
		if err != nil {
			return FileEntry{}, err
		}
		if !equal {
			continue
		}
		if rep.FastHash == nil {
			x.attachHashToInode(inode, d)
		}
		return x.link(x.entries[slot], e)
	}

	// No candidate matched: the new file joins the bucket as a distinct
	// inode, so every candidate group must now carry a hash too.
	for inode, slot := range bucketReps(x.entries, candidates) {
		if x.entries[slot].FastHash != nil {
			continue
		}
		h, err := x.sumEntry(x.entries[slot])
		if err != nil {
			return FileEntry{}, err
		}
		x.attachHashToInode(inode, h)
	}
	x.upsert(e)
	return e, nil
}

// sizeCandidates returns the slots sharing e's size, minus any stale slot
// already occupying e's path.
func (x *FilesIndex) sizeCandidates(e FileEntry) []int {
	self, hasSelf := x.byRelativePath[e.RelativePath]
	var out []int
	for slot := range x.bySize[e.Size] {
		if hasSelf && slot == self {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// bucketReps picks one representative slot per distinct inode among the
// candidates. Iteration order is unspecified; when several candidates would
// match, any of them is an equally good link target.
func bucketReps(entries []FileEntry, candidates []int) map[uint64]int {
	reps := make(map[uint64]int)
	for _, slot := range candidates {
		inode := entries[slot].Inode
		if _, ok := reps[inode]; !ok {
			reps[inode] = slot
		}
	}
	return reps
}

// absPath turns an index-relative path into an absolute one, refusing to
// step outside the base directory even through symlink trickery.
func (x *FilesIndex) absPath(relativePath string) (string, error) {
	abs, err := securejoin.SecureJoin(x.basePath, relativePath)
	if err != nil {
		return "", fmt.Errorf("join %q under %q: %w", relativePath, x.basePath, err)
	}
	return abs, nil
}

func (x *FilesIndex) openEntry(e FileEntry) (io.ReadCloser, error) {
	abs, err := x.absPath(e.RelativePath)
	if err != nil {
		return nil, err
	}
	return x.fs.Open(abs)
}

// sumEntry is the standalone hash pass over one file.
func (x *FilesIndex) sumEntry(e FileEntry) (streamhash.Digest, error) {
	rc, err := x.openEntry(e)
	if err != nil {
		return streamhash.Digest{}, err
	}
	defer rc.Close()
	d, err := streamhash.Sum(rc)
	if err != nil {
		return streamhash.Digest{}, fmt.Errorf("hash %q: %w", e.RelativePath, err)
	}
	return d, nil
}

// compareEntries runs the comparator in full mode over two files.
func (x *FilesIndex) compareEntries(a, b FileEntry) (streamhash.Result, error) {
	ra, err := x.openEntry(a)
	if err != nil {
		return streamhash.Result{}, err
	}
	defer ra.Close()
	rb, err := x.openEntry(b)
	if err != nil {
		return streamhash.Result{}, err
	}
	defer rb.Close()
	res, err := streamhash.Compare(ra, rb)
	if err != nil {
		return streamhash.Result{}, fmt.Errorf("compare %q and %q: %w", a.RelativePath, b.RelativePath, err)
	}
	return res, nil
}

// entriesEqual runs the comparator in short-circuit mode over two files.
func (x *FilesIndex) entriesEqual(a, b FileEntry) (bool, error) {
	ra, err := x.openEntry(a)
	if err != nil {
		return false, err
	}
	defer ra.Close()
	rb, err := x.openEntry(b)
	if err != nil {
		return false, err
	}
	defer rb.Close()
	equal, err := streamhash.Equal(ra, rb)
	if err != nil {
		return false, fmt.Errorf("compare %q and %q: %w", a.RelativePath, b.RelativePath, err)
	}
	return equal, nil
}

func anySlot(set map[int]struct{}) int {
	for slot := range set {
		return slot
	}
	panic("index: empty slot set") // unreachable on a coherent index
}

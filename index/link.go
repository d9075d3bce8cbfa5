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

	"github.com/apex/log"
	"github.com/opencontainers/go-digest"
)

// BackupSuffix is appended to a duplicate's name while its bytes are
// reserved during the link transaction. The walker must skip any file whose
// name ends in this suffix, which is also what lets a crashed run converge:
// a leftover backup is simply never re-admitted.
const BackupSuffix = ".backup"

// ErrConsistency is returned when the post-link re-stat disagrees with the
// expected identity. It is fatal to the run; the backup copy is deliberately
// left in place.
var ErrConsistency = errors.New("post-link verification failed")

// link collapses incoming onto existing's inode. Preconditions: equal sizes,
// equal present hashes, distinct inodes. The transaction is not atomic
// across arbitrary failure, but it never destroys bytes: the duplicate's
// content is parked under a .backup name before its original name is
// touched, and the backup is only released after the new link has been
// re-statted and verified.
//
// In read-only mode the transaction is a no-op beyond bookkeeping: the
// unmodified incoming entry is recorded and returned.
func (x *FilesIndex) link(existing, incoming FileEntry) (FileEntry, error) {
	switch {
	case existing.Size != incoming.Size:
		return FileEntry{}, auditErrf("link %q onto %q: size mismatch", incoming.RelativePath, existing.RelativePath)
	case existing.FastHash == nil || incoming.FastHash == nil || *existing.FastHash != *incoming.FastHash:
		return FileEntry{}, auditErrf("link %q onto %q: hash mismatch", incoming.RelativePath, existing.RelativePath)
	case existing.Inode == incoming.Inode:
		return FileEntry{}, auditErrf("link %q onto %q: already one inode", incoming.RelativePath, existing.RelativePath)
	}

	if x.opts.ReadOnly {
		log.Infof("dry run: would link %s onto %s", incoming.RelativePath, existing.RelativePath)
		x.stats.Linked++
		x.stats.BytesReclaimed += incoming.Size
		x.upsert(incoming)
		return incoming, nil
	}

	target, err := x.absPath(existing.RelativePath)
	if err != nil {
		return FileEntry{}, err
	}
	original, err := x.absPath(incoming.RelativePath)
	if err != nil {
		return FileEntry{}, err
	}
	backup := original + BackupSuffix

	// Reserve the duplicate's bytes against loss before touching its name.
	if err := x.fs.Rename(original, backup); err != nil {
		return FileEntry{}, fmt.Errorf("reserve backup for %q: %w", incoming.RelativePath, err)
	}

	if err := x.fs.Link(target, original); err != nil {
		// Roll the reservation back so the tree is exactly as found.
		if rbErr := x.fs.Rename(backup, original); rbErr != nil {
			log.WithError(rbErr).Errorf("rollback of %s failed, bytes remain at %s", incoming.RelativePath, backup)
		}
		return FileEntry{}, fmt.Errorf("hard link %q onto %q: %w", incoming.RelativePath, existing.RelativePath, err)
	}

	// The linked name must now be the existing inode, byte for byte. Any
	// disagreement means the tree changed under us; keep the backup and
	// abort the run.
	meta, err := x.fs.Metadata(original)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: re-stat %q: %v (bytes preserved at %q)", ErrConsistency, incoming.RelativePath, err, backup)
	}
	if meta.Inode != existing.Inode || meta.Size != existing.Size {
		return FileEntry{}, fmt.Errorf("%w: %q does not match %q after linking (bytes preserved at %q)",
			ErrConsistency, original, target, backup)
	}
	if x.opts.Verify {
		if err := x.verifyLinkedContent(backup, original); err != nil {
			return FileEntry{}, err
		}
	}

	if err := x.fs.Remove(backup); err != nil {
		// Harmless duplication: the walker skips .backup names and the next
		// run can clean up.
		log.WithError(err).Warnf("could not remove backup %s", backup)
	}

	rehydrated := FileEntry{
		RelativePath: incoming.RelativePath,
		Size:         existing.Size,
		Inode:        existing.Inode,
		Modified:     meta.Modified,
		Accessed:     meta.Accessed,
		Created:      meta.Created,
		FastHash:     existing.FastHash,
	}
	x.stats.Linked++
	x.stats.BytesReclaimed += incoming.Size
	x.upsert(rehydrated)
	log.Debugf("linked %s onto %s (inode %d)", incoming.RelativePath, existing.RelativePath, existing.Inode)
	return rehydrated, nil
}

// verifyLinkedContent re-reads both the reserved backup and the linked path
// and insists on identical SHA-256 digests before the backup may be
// released.
func (x *FilesIndex) verifyLinkedContent(backup, linked string) error {
	backupDigest, err := x.digestPath(backup)
	if err != nil {
		return fmt.Errorf("%w: digest backup %q: %v", ErrConsistency, backup, err)
	}
	linkedDigest, err := x.digestPath(linked)
	if err != nil {
		return fmt.Errorf("%w: digest %q: %v", ErrConsistency, linked, err)
	}
	if backupDigest != linkedDigest {
		return fmt.Errorf("%w: %q is %s but its backup %q is %s",
			ErrConsistency, linked, linkedDigest, backup, backupDigest)
	}
	return nil
}

func (x *FilesIndex) digestPath(path string) (digest.Digest, error) {
	rc, err := x.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return digest.Canonical.FromReader(rc)
}

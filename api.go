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

// Package dedup provides the top-level API for deduplicating a directory
// tree: replacing byte-identical regular files with hard links to a single
// inode, and persisting a sidecar index so subsequent runs are incremental.
package dedup

import (
	"fmt"

	"github.com/apex/log"
	units "github.com/docker/go-units"
	"github.com/vbatts/go-mtree"

	"github.com/hardlink-tools/dedup/index"
	"github.com/hardlink-tools/dedup/pkg/fseval"
)

// Options configure a deduplication run.
type Options struct {
	// DryRun records what would be linked without mutating the tree, and
	// skips persisting the sidecar. Pair it with a read-only FsEval.
	DryRun bool

	// Verify enables paranoia: a SHA-256 check of every backup against its
	// freshly linked replacement, plus (when running against the host
	// filesystem) a content manifest of the whole tree taken before the run
	// and re-checked after it.
	Verify bool
}

// Report summarizes what a run did.
type Report struct {
	// FilesIndexed counts files admitted to the index this run.
	FilesIndexed int

	// FilesLinked counts duplicates collapsed onto an existing inode (or
	// that would have been, in a dry run).
	FilesLinked int

	// BytesReclaimed is the total size of the collapsed duplicates.
	BytesReclaimed uint64
}

// Run deduplicates the tree rooted at dir: it loads any prior sidecar
// index, walks the tree admitting every regular file, audits the index, and
// persists the updated sidecar. When an error cuts the run short after the
// index was loaded, the index is still returned, holding every admission made
// up to that point, so callers can inspect or print it; if loading the
// sidecar fails, the returned index is nil.
func Run(fs fseval.FsEval, dir string, opts Options) (*index.FilesIndex, Report, error) {
	idx, err := index.Load(fs, dir, &index.Options{ReadOnly: opts.DryRun, Verify: opts.Verify})
	if err != nil {
		return nil, Report{}, err
	}
	log.Infof("deduplicating %s (%d known entries)", idx.BasePath(), idx.Len())

	// The manifest bypasses the FsEval (go-mtree reads the host filesystem),
	// so it only makes sense on the real one.
	var pre *mtree.DirectoryHierarchy
	verifyManifest := opts.Verify && !opts.DryRun && fs == fseval.Default
	if verifyManifest {
		if pre, err = snapshotTree(idx.BasePath()); err != nil {
			return idx, report(idx), err
		}
	}

	if err := walkTree(fs, idx); err != nil {
		return idx, report(idx), fmt.Errorf("deduplicate %q: %w", dir, err)
	}
	if err := idx.SanityCheck(); err != nil {
		return idx, report(idx), err
	}
	if verifyManifest {
		if err := verifyUnchanged(idx.BasePath(), pre); err != nil {
			return idx, report(idx), err
		}
	}
	if !opts.DryRun {
		if err := idx.Save(); err != nil {
			return idx, report(idx), err
		}
	}

	rep := report(idx)
	verb := "reclaimed"
	if opts.DryRun {
		verb = "would reclaim"
	}
	log.Infof("%d of %d files deduplicated, %s %s", rep.FilesLinked, rep.FilesIndexed,
		verb, units.BytesSize(float64(rep.BytesReclaimed)))
	return idx, rep, nil
}

func report(idx *index.FilesIndex) Report {
	stats := idx.Stats()
	return Report{
		FilesIndexed:   stats.Admitted,
		FilesLinked:    stats.Linked,
		BytesReclaimed: stats.BytesReclaimed,
	}
}

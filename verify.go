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

package dedup

import (
	"fmt"

	"github.com/apex/log"
	"github.com/vbatts/go-mtree"

	"github.com/hardlink-tools/dedup/index"
	"github.com/hardlink-tools/dedup/pkg/mtreefilter"
)

// verifyKeywords are the content-identity keywords for the paranoid
// manifest. Deliberately no nlink or time keywords: hard-linking changes
// both on every duplicate, and that is the whole point of the run.
var verifyKeywords = []mtree.Keyword{"type", "size", "sha256digest"}

// snapshotTree captures a content manifest of the base directory. It reads
// the host filesystem directly, so it is only used when running against the
// real FsEval.
func snapshotTree(base string) (*mtree.DirectoryHierarchy, error) {
	dh, err := mtree.Walk(base, nil, verifyKeywords, nil)
	if err != nil {
		return nil, fmt.Errorf("verify: manifest walk of %q: %w", base, err)
	}
	return dh, nil
}

// verifyUnchanged re-walks the base directory and insists that, apart from
// the sidecar and any parked backups, no file's content identity deviates
// from the pre-run manifest.
func verifyUnchanged(base string, pre *mtree.DirectoryHierarchy) error {
	post, err := snapshotTree(base)
	if err != nil {
		return err
	}
	deltas, err := mtree.Compare(pre, post, verifyKeywords)
	if err != nil {
		return fmt.Errorf("verify: compare manifests of %q: %w", base, err)
	}
	deltas = mtreefilter.FilterDeltas(deltas,
		mtreefilter.MaskFilter([]string{index.IndexFileName}),
		mtreefilter.SuffixFilter(index.BackupSuffix))
	if len(deltas) == 0 {
		log.Debugf("verify: %d manifest entries unchanged", len(post.Entries))
		return nil
	}
	for _, delta := range deltas {
		log.Errorf("verify: %s changed (%s)", delta.Path(), delta.Type())
	}
	return fmt.Errorf("verify: %d paths changed under %q: %w", len(deltas), base, index.ErrConsistency)
}

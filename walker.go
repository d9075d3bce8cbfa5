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
	"errors"
	"os"
	"strings"

	"github.com/apex/log"

	"github.com/hardlink-tools/dedup/index"
	"github.com/hardlink-tools/dedup/pkg/fseval"
)

// walkTree feeds every admissible regular file under the index's base
// directory to the index, in walk order. Per-entry failures are logged and
// skipped; only index-fatal errors (a consistency violation, an index
// invariant violation, or a mutator reached in read-only mode) abort the walk.
func walkTree(fs fseval.FsEval, idx *index.FilesIndex) error {
	return fs.Walk(idx.BasePath(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.WithError(err).Warnf("walk: skipping %s", path)
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if skipName(info.Name()) {
			log.Debugf("walk: skipping reserved name %s", path)
			return nil
		}
		if _, err := idx.AddFile(path); err != nil {
			if errors.Is(err, index.ErrConsistency) || errors.Is(err, fseval.ErrReadOnly) || errors.Is(err, index.ErrCorruptIndex) {
				return err
			}
			log.WithError(err).Warnf("skipping %s", path)
		}
		return nil
	})
}

// skipName reports whether a base name is reserved by the deduplicator
// itself: the sidecar index, and backup names parked by the link
// transaction.
func skipName(name string) bool {
	return name == index.IndexFileName || strings.HasSuffix(name, index.BackupSuffix)
}

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

// Package mtreefilter narrows go-mtree manifest deltas to the ones a
// deduplication run is actually answerable for. The run legitimately
// creates the sidecar index and may leave *.backup names behind; everything
// else in the tree must come through content-identical.
package mtreefilter

import (
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/vbatts/go-mtree"
)

// FilterFunc decides whether a delta path is relevant. Paths are relative to
// the manifest root.
type FilterFunc func(path string) bool

// MaskFilter ignores deltas whose path (or any ancestor) is one of the
// masked paths. All paths are taken relative to '/'.
func MaskFilter(masks []string) FilterFunc {
	masked := make(map[string]struct{}, len(masks))
	for _, mask := range masks {
		masked[makeRoot(mask)] = struct{}{}
	}
	return func(path string) bool {
		path = makeRoot(path)
		for parent := path; ; parent = filepath.Dir(parent) {
			if _, ok := masked[parent]; ok {
				log.Debugf("maskfilter: ignoring %q matched by mask %q", path, parent)
				return false
			}
			if parent == filepath.Dir(parent) {
				return true
			}
		}
	}
}

// SuffixFilter ignores deltas whose base name carries the given suffix.
func SuffixFilter(suffix string) FilterFunc {
	return func(path string) bool {
		if strings.HasSuffix(filepath.Base(path), suffix) {
			log.Debugf("suffixfilter: ignoring %q (suffix %q)", path, suffix)
			return false
		}
		return true
	}
}

// FilterDeltas keeps only the deltas every filter considers relevant.
func FilterDeltas(deltas []mtree.InodeDelta, filters ...FilterFunc) []mtree.InodeDelta {
	var kept []mtree.InodeDelta
	for _, delta := range deltas {
		relevant := true
		for _, filter := range filters {
			if !filter(delta.Path()) {
				relevant = false
				break
			}
		}
		if relevant {
			kept = append(kept, delta)
		}
	}
	return kept
}

// makeRoot converts a path to a cleaned relative-to-root form. Manifest
// paths contain no symlink components, so this is purely lexical.
func makeRoot(path string) string {
	return filepath.Join(string(filepath.Separator), path)
}

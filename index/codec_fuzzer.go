//go:build gofuzz

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
	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"

	"github.com/hardlink-tools/dedup/pkg/fseval"
)

// FuzzLoad feeds adversarial sidecar bytes to the codec. Decoding may fail,
// but it must never panic, and any index it does accept must pass the audit.
func FuzzLoad(data []byte) int {
	consumer := fuzzheaders.NewConsumer(data)
	raw, err := consumer.GetBytes()
	if err != nil {
		return 0
	}
	fs := fseval.NewMemFs()
	fs.AddFile("/tree/"+IndexFileName, string(raw))
	x, err := Load(fs, "/tree", nil)
	if err != nil {
		return 0
	}
	if err := x.SanityCheck(); err != nil {
		panic(err)
	}
	return 1
}

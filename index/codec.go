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
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apex/log"

	"github.com/hardlink-tools/dedup/pkg/fseval"
	"github.com/hardlink-tools/dedup/pkg/streamhash"
)

// IndexFileName is the sidecar the index persists itself to, directly under
// the base directory. The walker must skip it.
const IndexFileName = ".index_file.csv"

// ErrCodec is wrapped by every sidecar decoding failure. A malformed sidecar
// is fatal to startup; an absent one is normal and yields an empty index.
var ErrCodec = errors.New("malformed index sidecar")

var codecHeader = []string{
	"relative_path",
	"fast_hash",
	"stat_size",
	"stat_modified",
	"stat_accessed",
	"stat_created",
	"stat_inode",
}

// WriteTo serializes the entry sequence as one header row plus one CSV row
// per entry, in slot order. Timestamps are RFC 3339 in UTC; the hash column
// is the decimal 128-bit digest, or empty for unhashed entries.
func (x *FilesIndex) WriteTo(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(codecHeader); err != nil {
		return fmt.Errorf("write sidecar header: %w", err)
	}
	for _, e := range x.entries {
		hash := ""
		if e.FastHash != nil {
			hash = e.FastHash.String()
		}
		row := []string{
			e.RelativePath,
			hash,
			strconv.FormatUint(e.Size, 10),
			codecTime(e.Modified),
			codecTime(e.Accessed),
			codecTime(e.Created),
			strconv.FormatUint(e.Inode, 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write sidecar row for %q: %w", e.RelativePath, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the sidecar to <base>/.index_file.csv.
func (x *FilesIndex) Save() error {
	var buf bytes.Buffer
	if err := x.WriteTo(&buf); err != nil {
		return err
	}
	path := filepath.Join(x.basePath, IndexFileName)
	if err := x.fs.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	log.Debugf("saved %d entries to %s", len(x.entries), path)
	return nil
}

// Load reconstructs an index from the sidecar under basePath. An absent
// sidecar yields an empty index; a malformed one, or one whose rows violate
// the index invariants (hash incoherence in particular), fails with ErrCodec.
// The caller is expected to rescan the tree afterwards, which brings stats
// back up to date.
func Load(fs fseval.FsEval, basePath string, opts *Options) (*FilesIndex, error) {
	empty, err := New(fs, basePath, opts)
	if err != nil {
		return nil, err
	}
	rc, err := fs.Open(filepath.Join(empty.basePath, IndexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index sidecar: %w", err)
	}
	defer rc.Close()

	entries, err := decodeEntries(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", IndexFileName, ErrCodec, err)
	}
	x, err := FromEntries(fs, empty.basePath, entries, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", IndexFileName, ErrCodec, err)
	}
	log.Debugf("loaded %d entries from prior index", x.Len())
	return x, nil
}

func decodeEntries(r io.Reader) ([]FileEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(codecHeader)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, err
	}
	for i, col := range codecHeader {
		if header[i] != col {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, header[i], col)
		}
	}

	var entries []FileEntry
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		e, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(entries)+2, err)
		}
		entries = append(entries, e)
	}
}

func decodeRow(row []string) (FileEntry, error) {
	e := FileEntry{RelativePath: row[0]}
	if e.RelativePath == "" {
		return FileEntry{}, errors.New("empty relative_path")
	}
	if row[1] != "" {
		d, err := streamhash.Parse(row[1])
		if err != nil {
			return FileEntry{}, err
		}
		e.FastHash = &d
	}
	size, err := strconv.ParseUint(row[2], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("stat_size: %w", err)
	}
	e.Size = size
	if e.Modified, err = time.Parse(time.RFC3339Nano, row[3]); err != nil {
		return FileEntry{}, fmt.Errorf("stat_modified: %w", err)
	}
	if e.Accessed, err = time.Parse(time.RFC3339Nano, row[4]); err != nil {
		return FileEntry{}, fmt.Errorf("stat_accessed: %w", err)
	}
	if e.Created, err = time.Parse(time.RFC3339Nano, row[5]); err != nil {
		return FileEntry{}, fmt.Errorf("stat_created: %w", err)
	}
	inode, err := strconv.ParseUint(row[6], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("stat_inode: %w", err)
	}
	e.Inode = inode
	return e, nil
}

func codecTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

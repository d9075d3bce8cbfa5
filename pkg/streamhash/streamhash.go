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

// Package streamhash walks one or two byte streams in a single pass,
// deciding byte equality and computing a 128-bit content digest.
//
// The digest algorithm is MurmurHash3 x64 128. It is fast, not
// cryptographic; collisions are tolerable because equality decisions are
// always backed by a byte compare. The algorithm choice is observable: the
// digests are persisted in the sidecar index, so changing it invalidates
// every previously written index.
package streamhash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/twmb/murmur3"
)

// BlockSize is the buffer size for all stream reads.
const BlockSize = 4096

// ErrMalformedDigest is returned by Parse for input that is not the decimal
// form of a 128-bit value.
var ErrMalformedDigest = errors.New("malformed 128-bit digest")

// Digest is a 128-bit MurmurHash3 (x64 variant) content digest.
type Digest struct {
	Hi, Lo uint64
}

// String returns the digest as a decimal 128-bit integer, the form persisted
// in the sidecar index.
func (d Digest) String() string {
	v := new(big.Int).SetUint64(d.Hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(d.Lo))
	return v.String()
}

// Parse is the inverse of String.
func Parse(s string) (Digest, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 128 {
		return Digest{}, fmt.Errorf("%w: %q", ErrMalformedDigest, s)
	}
	var lo big.Int
	lo.And(v, new(big.Int).SetUint64(^uint64(0)))
	return Digest{
		Hi: new(big.Int).Rsh(v, 64).Uint64(),
		Lo: lo.Uint64(),
	}, nil
}

// Result is the outcome of a two-stream comparison.
type Result struct {
	// Equal reports whether the two streams were byte-identical.
	Equal bool

	// A and B are the digests of the two streams. They are only defined
	// after a full-mode comparison.
	A, B Digest
}

// Sum consumes r and returns its digest. This is the standalone hash pass
// used when a file must be hashed in isolation.
func Sum(r io.Reader) (Digest, error) {
	h := murmur3.New128()
	if _, err := io.CopyBuffer(h, r, make([]byte, BlockSize)); err != nil {
		return Digest{}, err
	}
	hi, lo := h.Sum128()
	return Digest{Hi: hi, Lo: lo}, nil
}

// Compare runs in full mode: both streams are consumed to end-of-file and
// their digests are reported alongside the equality verdict.
func Compare(a, b io.Reader) (Result, error) {
	return compare(a, b, true)
}

// Equal runs in short-circuit mode: it returns the moment a mismatch is
// found, and no digests are computed.
func Equal(a, b io.Reader) (bool, error) {
	res, err := compare(a, b, false)
	return res.Equal, err
}

// compare reads both sides in lockstep. Each iteration fills both buffers
// (io.ReadFull only leaves a buffer short at end-of-stream), compares the
// common prefix, and, in full mode, feeds each side's digest. Streams of
// different lengths are unequal; in full mode the longer side keeps being
// consumed so its digest is still defined.
func compare(a, b io.Reader, full bool) (Result, error) {
	bufA := make([]byte, BlockSize)
	bufB := make([]byte, BlockSize)
	var hashA, hashB murmur3.Hash128
	if full {
		hashA = murmur3.New128()
		hashB = murmur3.New128()
	}

	equal := true
	doneA, doneB := false, false
	for !doneA || !doneB {
		var nA, nB int
		if !doneA {
			n, err := fill(a, bufA)
			if err != nil && err != io.EOF { //nolint:errorlint // fill normalizes EOF
				return Result{}, err
			}
			nA = n
			doneA = err == io.EOF
			if full && n > 0 {
				_, _ = hashA.Write(bufA[:n]) // hash.Hash never errors
			}
		}
		if !doneB {
			n, err := fill(b, bufB)
			if err != nil && err != io.EOF { //nolint:errorlint // fill normalizes EOF
				return Result{}, err
			}
			nB = n
			doneB = err == io.EOF
			if full && n > 0 {
				_, _ = hashB.Write(bufB[:n])
			}
		}
		if equal && (nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB])) {
			equal = false
			if !full {
				return Result{Equal: false}, nil
			}
		}
	}

	res := Result{Equal: equal}
	if full {
		hi, lo := hashA.Sum128()
		res.A = Digest{Hi: hi, Lo: lo}
		hi, lo = hashB.Sum128()
		res.B = Digest{Hi: hi, Lo: lo}
	}
	return res, nil
}

// fill reads until buf is full or the stream ends. A short final block is
// reported as (n, io.EOF).
func fill(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

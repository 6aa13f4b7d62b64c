// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package msort contains utility functions for sorting and
// de-duplicating batches of change rows, working over types.ChangeRow's
// (table, key) pairs and opaque peer timestamps.
package msort

import "github.com/cockroachdb/dbsync/internal/types"

// UniqueByKey implements a "last one wins" de-duplication over a slice
// of ChangeRow: when two rows share the same (Table, Key), the one with
// the later Timestamp is kept. Rows with identical keys and timestamps
// resolve to one arbitrarily. The modified slice is returned.
//
// This function panics if any row's Key field is entirely empty; an
// empty JSON array (`[]`) is an acceptable, non-empty key.
func UniqueByKey(x []types.ChangeRow) []types.ChangeRow {
	seenIdx := make(map[string]int, len(x))

	dest := len(x)
	for src := len(x) - 1; src >= 0; src-- {
		if len(x[src].Key) == 0 {
			panic("empty change row key")
		}
		key := x[src].DedupeKey()

		if curIdx, found := seenIdx[key]; found {
			if x[src].Timestamp > x[curIdx].Timestamp {
				x[curIdx] = x[src]
			}
		} else {
			dest--
			seenIdx[key] = dest
			x[dest] = x[src]
		}
	}

	return x[dest:]
}

// SortByTimestamp returns a new slice containing x sorted by ascending
// Timestamp, using a stable insertion sort so that rows sharing a
// timestamp retain their relative order. It shares the same "last one
// wins" discipline as UniqueByKey: callers needing a deterministic
// apply order (e.g. a sqlprovider replaying a batch inside one
// transaction) sort first, then dedupe.
func SortByTimestamp(x []types.ChangeRow) []types.ChangeRow {
	out := make([]types.ChangeRow, len(x))
	copy(out, x)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Timestamp > out[j].Timestamp; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

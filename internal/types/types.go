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

// Package types contains the data types shared by the orchestrator and
// every Provider implementation: change rows, batch handles, conflict
// policy, and the selection/application summaries. These value types
// are kept separate from the Provider interfaces (package provider) so
// the factory interfaces that produce and consume them can evolve
// independently of the data itself.
package types

import (
	"encoding/json"

	"github.com/cockroachdb/dbsync/internal/synctime"
)

// ConflictPolicy determines which side's row wins when the same key was
// changed on both peers since the last sync.
type ConflictPolicy int

// The two recognized policies.
const (
	// ServerWins keeps the server's row on conflict.
	ServerWins ConflictPolicy = iota
	// ClientWins keeps the client's row on conflict.
	ClientWins
)

// String implements fmt.Stringer.
func (p ConflictPolicy) String() string {
	if p == ClientWins {
		return "ClientWins"
	}
	return "ServerWins"
}

// Opposite returns the policy that keeps the other side's row. The
// orchestrator applies this to derive the client-side apply policy from
// the configured (server-side) policy.
func (p ConflictPolicy) Opposite() ConflictPolicy {
	if p == ClientWins {
		return ServerWins
	}
	return ClientWins
}

// A ChangeRow is a single changed record staged for transfer between
// peers. Key and Data are opaque, provider-defined encodings (typically
// JSON, carried as json.RawMessage) so that a row can round-trip through
// a wire provider without the orchestrator needing to understand table
// schemas.
type ChangeRow struct {
	Table     string
	Key       json.RawMessage
	Data      json.RawMessage // nil/"null" means the row was deleted.
	Timestamp synctime.Opaque
}

// IsDelete reports whether the row represents a deletion.
func (r ChangeRow) IsDelete() bool {
	return len(r.Data) == 0 || string(r.Data) == "null"
}

// DedupeKey renders a ChangeRow's key as a stable string for
// deduplication, e.g. by msort.UniqueByKey.
func (r ChangeRow) DedupeKey() string {
	return r.Table + "\x00" + string(r.Key)
}

// BatchInfo is an opaque handle to a set of ChangeRows staged on disk or
// in memory by a get_change_batch call and consumed by the matching
// apply_changes call. Implementations must guarantee referential
// stability for the lifetime of the session and must be released by the
// orchestrator on finalization.
type BatchInfo interface {
	// Rows returns the staged change rows. Implementations may load them
	// lazily on first call.
	Rows() ([]ChangeRow, error)
	// Len reports the number of staged rows without necessarily loading
	// them.
	Len() int
	// Release frees any resources (open files, memory) held by the
	// batch. It is safe to call Release more than once.
	Release() error
}

// memoryBatch is the default, in-process BatchInfo implementation used
// by sqlprovider and by tests.
type memoryBatch struct {
	rows []ChangeRow
}

var _ BatchInfo = (*memoryBatch)(nil)

// NewMemoryBatch wraps rows as a BatchInfo with no external resources to
// release.
func NewMemoryBatch(rows []ChangeRow) BatchInfo {
	return &memoryBatch{rows: rows}
}

func (b *memoryBatch) Rows() ([]ChangeRow, error) { return b.rows, nil }
func (b *memoryBatch) Len() int                   { return len(b.rows) }
func (b *memoryBatch) Release() error             { b.rows = nil; return nil }

// DatabaseChangesSelected summarizes the outcome of a get_change_batch
// call. The orchestrator reads only TotalChangesSelected; PerTable is
// carried for providers/observability to report finer detail.
type DatabaseChangesSelected struct {
	PerTable             map[string]int
	TotalChangesSelected int
}

// NewChangesSelected builds a DatabaseChangesSelected from a flat row
// slice, tallying counts per table.
func NewChangesSelected(rows []ChangeRow) DatabaseChangesSelected {
	out := DatabaseChangesSelected{PerTable: make(map[string]int, len(rows))}
	for _, r := range rows {
		out.PerTable[r.Table]++
		out.TotalChangesSelected++
	}
	return out
}

// DatabaseChangesApplied summarizes the outcome of an apply_changes
// call. The orchestrator reads only the two totals.
type DatabaseChangesApplied struct {
	PerTable                  map[string]int
	TotalAppliedChanges       int
	TotalAppliedChangesFailed int
}

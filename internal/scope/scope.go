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

// Package scope defines ScopeInfo, the per-peer replication cursor that
// the orchestrator reads and writes at well-defined points in a
// session: a durable row naming a peer (or peer-pair) and the last
// timestamp it has been brought up to date through, generalized into a
// three-record scheme (the client's record of itself, the server's
// record of itself, and the server's record of the client).
package scope

import (
	"time"

	"github.com/cockroachdb/dbsync/internal/scopeid"
	"github.com/cockroachdb/dbsync/internal/synctime"
)

// DefaultScopeName is used when a caller does not supply one.
const DefaultScopeName = "DefaultScope"

// Info identifies a replication cursor. Three Info values participate in
// a session: the client's record of itself, the server's record of
// itself, and the server's record of what it last told a particular
// client.
type Info struct {
	ID                scopeid.ID
	Name              string
	LastSyncTimestamp synctime.Opaque
	LastSync          time.Time
	LastSyncDuration  time.Duration
	IsNewScope        bool
	IsLocal           bool
}

// NewScope returns a fresh, never-synced Info for the given id/name.
func NewScope(id scopeid.ID, name string) Info {
	return Info{
		ID:         id,
		Name:       name,
		IsNewScope: true,
	}
}

// TableName returns the scope table name for a given
// scope_info_table_name configuration value, deriving a concrete table
// name from a configured base name.
func TableName(base string) string {
	if base == "" {
		base = "scope_info"
	}
	return base
}

// MarkComplete updates the bookkeeping fields of info to reflect a
// successful session. The timestamp itself is not set here since its
// source differs per record (client vs server timestamp); callers set
// LastSyncTimestamp separately.
func (info *Info) MarkComplete(start, complete time.Time) {
	info.IsNewScope = false
	info.LastSync = complete
	info.LastSyncDuration = complete.Sub(start)
}

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

// Package message defines the MessageEnvelope family: the typed request
// payloads that carry scope, schema, and policy parameters across the
// Provider boundary. Every envelope is a plain value type so that a
// proxy transport can marshal it with encoding/json without the
// orchestrator depending on the wire format at all.
package message

import (
	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/scopeid"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/synctime"
	"github.com/cockroachdb/dbsync/internal/types"
)

// BeginSession is sent to begin_session on both peers.
type BeginSession struct {
	Configuration config.Configuration
	SyncType      synccontext.SyncType
}

// EnsureScopes is sent to ensure_scopes. ClientReferenceID is only set
// for the remote call; it is the zero ID for the local call.
type EnsureScopes struct {
	ScopeName         string
	ClientReferenceID scopeid.ID
}

// EnsureSchema is sent to ensure_schema.
type EnsureSchema struct {
	ScopeName string
	Tables    []string
}

// EnsureDatabase is sent to ensure_database.
type EnsureDatabase struct {
	Schema  config.Schema
	Filters []config.Filter
	Scope   scope.Info
}

// Timestamp is sent to get_local_timestamp. It carries no parameters
// today but is a distinct envelope type (rather than passing nothing)
// so that a proxy transport always has a request body to frame, and so
// that future peer-local parameters have somewhere to go.
type Timestamp struct{}

// GetChangesBatch is sent to get_change_batch. It carries the
// selection scope: the destination scope id, whether the originating
// record is new, and the bound below which rows are excluded.
type GetChangesBatch struct {
	DestinationScopeID scopeid.ID
	IsNewScope         bool
	Since              synctime.Opaque
	Policy             types.ConflictPolicy
	Parameters         *synccontext.Parameters
}

// ApplyChanges is sent to apply_changes. It carries the apply scope:
// which peer originated the batch, whether its record is new, and the
// conflict policy to apply.
type ApplyChanges struct {
	OriginScopeID scopeid.ID
	IsNewScope    bool
	Since         synctime.Opaque
	Policy        types.ConflictPolicy
	Changes       types.BatchInfo
}

// WriteScopes is sent to write_scopes.
type WriteScopes struct {
	Scopes []scope.Info
}

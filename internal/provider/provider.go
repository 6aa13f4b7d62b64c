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

// Package provider defines the uniform capability contract the
// orchestrator drives. The split between LocalProvider and
// RemoteProvider is a capability distinction, not an inheritance fact:
// a proxy cannot serve as a client with local tables. A single concrete
// type is tagged against several small interfaces (var _
// LocalProvider = (*Provider)(nil), and similarly for RemoteProvider)
// rather than built up through a class hierarchy.
package provider

import (
	"context"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/types"
)

// ProgressArgs is a typed progress event emitted at provider-defined
// milestones. The orchestrator never constructs these itself; it only
// wires a sink into providers via SetProgress.
type ProgressArgs struct {
	Stage   string
	Message string
	Percent float64
}

// ProgressSink receives ProgressArgs.
type ProgressSink interface {
	OnProgress(ProgressArgs)
}

// ConfigMutator is given a chance to adjust a Configuration before a
// session begins; used by set_configuration.
type ConfigMutator func(*config.Configuration)

// Provider is the full capability set a peer exposes. LocalProvider and
// RemoteProvider both implement it; the orchestrator only ever talks to
// a value through this interface, choosing which peer to call at each
// step of the phase sequence.
type Provider interface {
	BeginSession(ctx context.Context, sc *synccontext.SyncContext, msg message.BeginSession) (*synccontext.SyncContext, config.Configuration, error)
	EndSession(ctx context.Context, sc *synccontext.SyncContext) (*synccontext.SyncContext, error)

	EnsureScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureScopes) (*synccontext.SyncContext, []scope.Info, error)
	EnsureSchema(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureSchema) (*synccontext.SyncContext, config.Schema, error)
	EnsureDatabase(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureDatabase) (*synccontext.SyncContext, error)

	GetLocalTimestamp(ctx context.Context, sc *synccontext.SyncContext, msg message.Timestamp) (*synccontext.SyncContext, int64, error)
	GetChangeBatch(ctx context.Context, sc *synccontext.SyncContext, msg message.GetChangesBatch) (*synccontext.SyncContext, types.BatchInfo, types.DatabaseChangesSelected, error)
	ApplyChanges(ctx context.Context, sc *synccontext.SyncContext, msg message.ApplyChanges) (*synccontext.SyncContext, types.DatabaseChangesApplied, error)
	WriteScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.WriteScopes) (*synccontext.SyncContext, error)

	SetCancellation(token <-chan struct{})
	SetProgress(sink ProgressSink)
	SetConfiguration(mutate ConfigMutator)
}

// LocalProvider marks a Provider as usable in the client role.
type LocalProvider interface {
	Provider
	isLocal()
}

// RemoteProvider marks a Provider as reachable in the server role. A
// RemoteProvider may be a direct peer or a transport proxy; IsServer
// distinguishes the two.
type RemoteProvider interface {
	Provider
	isRemote()
	// IsServer reports whether this RemoteProvider can act as a full
	// server peer with local tables (true for a direct peer), as opposed
	// to a thin proxy over a wire protocol. The bundled proxy client
	// (internal/provider/proxy) forwards every call, ensure_database
	// included, to the peer behind it; it stores but never applies a
	// mutator passed to SetConfiguration.
	IsServer() bool
}

// BaseLocal should be embedded by concrete LocalProvider implementations
// to satisfy the role marker without repeating the no-op method.
type BaseLocal struct{}

func (BaseLocal) isLocal() {}

// BaseRemote should be embedded by concrete RemoteProvider
// implementations to satisfy the role marker.
type BaseRemote struct{}

func (BaseRemote) isRemote() {}

// IsServerCapable reports whether p, when used as a remote peer, is
// capable of serving as a server with local tables (a direct peer)
// rather than being a transport proxy. It is used by the tables-aware
// construction variant to reject a proxy where a direct peer is
// required.
func IsServerCapable(p RemoteProvider) bool {
	return p.IsServer()
}

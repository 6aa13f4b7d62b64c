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

// Package orchestrator implements the synchronization state machine:
// the fixed 16-step phase sequence that drives a local (client) and a
// remote (server) Provider through a single sync session. It is a
// long-lived coordinator holding two collaborating sides, threading a
// context value through a sequence of suspension points, checking
// cancellation between steps, and notifying observers of state
// transitions.
package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/synctime"
	"github.com/cockroachdb/dbsync/internal/syncerr"
	"github.com/cockroachdb/dbsync/internal/types"
	"github.com/cockroachdb/dbsync/internal/util/notify"
)

// SessionState is the orchestrator's observable lifecycle state.
type SessionState int

// The two recognized states.
const (
	Ready SessionState = iota
	Synchronizing
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	if s == Synchronizing {
		return "Synchronizing"
	}
	return "Ready"
}

// Observer is notified exactly twice per synchronize call: once
// entering Synchronizing, once returning to Ready.
type Observer interface {
	SessionStateChanged(state SessionState)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(SessionState)

// SessionStateChanged implements Observer.
func (f ObserverFunc) SessionStateChanged(state SessionState) { f(state) }

// Orchestrator drives a single local/remote Provider pair through
// repeated sync sessions. One Orchestrator runs at most one session at a
// time, rejecting overlapping Synchronize calls; it does not serialize
// against other Orchestrators sharing the same
// local peer — callers that share a local peer across Orchestrators are
// responsible for their own single-writer discipline.
type Orchestrator struct {
	local    provider.LocalProvider
	remote   provider.RemoteProvider
	config   config.Configuration
	observer Observer

	state  *notify.Var[SessionState]
	active atomic.Bool

	log *logrus.Entry
}

// New constructs an Orchestrator for the "direct peers, known tables"
// variant. The remote provider must self-report as server-capable; a
// proxy is rejected here. Tables must be non-empty; scopeName must be
// non-empty. The scope name's
// documented default of "DefaultScope" applies only to the CLI's flag
// default (internal/config.Configuration.Bind); direct library
// construction validates the caller's input strictly, so that a caller
// who explicitly passes "" learns about it immediately rather than
// silently adopting a default.
func New(local provider.LocalProvider, remote provider.RemoteProvider, scopeName string, tables []string, observer Observer) (*Orchestrator, error) {
	if scopeName == "" {
		return nil, syncerr.Configurationf("scope name must not be empty")
	}
	if len(tables) == 0 {
		return nil, syncerr.Configurationf("tables must not be empty for the direct construction variant")
	}
	if !provider.IsServerCapable(remote) {
		return nil, syncerr.Configurationf("remote provider is not server-capable; use NewProxy for a transport-adapted remote")
	}
	cfg := config.Configuration{ScopeName: scopeName, Tables: append([]string(nil), tables...)}
	return newOrchestrator(local, remote, cfg, observer)
}

// NewProxy constructs an Orchestrator for the "proxy remote" variant.
// Table configuration is assumed to live behind the proxy; no
// server-capability check is performed since a proxy is expected not to
// satisfy it.
func NewProxy(local provider.LocalProvider, remote provider.RemoteProvider, scopeName string, observer Observer) (*Orchestrator, error) {
	if scopeName == "" {
		return nil, syncerr.Configurationf("scope name must not be empty")
	}
	cfg := config.Configuration{ScopeName: scopeName}
	return newOrchestrator(local, remote, cfg, observer)
}

func newOrchestrator(local provider.LocalProvider, remote provider.RemoteProvider, cfg config.Configuration, observer Observer) (*Orchestrator, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, syncerr.New(syncerr.Configuration, err)
	}
	if observer == nil {
		observer = ObserverFunc(func(SessionState) {})
	}
	return &Orchestrator{
		local:    local,
		remote:   remote,
		config:   cfg,
		observer: observer,
		state:    notify.NewVar(Ready),
		log:      logrus.WithField("scope", cfg.ScopeName),
	}, nil
}

// State returns the orchestrator's current observable state.
func (o *Orchestrator) State() SessionState {
	s, _ := o.state.Get()
	return s
}

func (o *Orchestrator) setState(s SessionState) {
	o.state.Set(s)
	o.observer.SessionStateChanged(s)
}

// checkCancel reports a Cancelled error, noting stage, if ctx has been
// canceled. It is called before every phase and after every provider
// call of consequence.
func checkCancel(ctx context.Context, stage syncerr.Stage) error {
	select {
	case <-ctx.Done():
		return syncerr.Cancelledf("synchronization canceled during stage %s", stage)
	default:
		return nil
	}
}

// Synchronize runs exactly one session: the full 16-step phase sequence.
// Overlapping calls on one Orchestrator are rejected outright, returning
// a Protocol error, rather than queued, which keeps a session's
// provider-call sequence always interposable and avoids silently
// queuing work behind the caller's back.
func (o *Orchestrator) Synchronize(ctx context.Context, syncType synccontext.SyncType) (_ *synccontext.SyncContext, err error) {
	if !o.active.CompareAndSwap(false, true) {
		return nil, syncerr.Protocolf("a synchronization session is already in progress")
	}
	defer o.active.Store(false)

	o.setState(Synchronizing)
	sc := synccontext.New(syncType, synccontext.NewParameters())

	var (
		localScopeInfo          scope.Info
		serverScopeInfo         scope.Info
		localScopeReferenceInfo scope.Info
		clientBatch             types.BatchInfo
		serverBatch             types.BatchInfo
	)

	defer func() {
		if clientBatch != nil {
			_ = clientBatch.Release()
		}
		if serverBatch != nil {
			_ = serverBatch.Release()
		}
		sc.Complete()
		// Finalization (step 16) always runs, success or failure, and its
		// own failures never mask the original error.
		if _, endErr := o.remote.EndSession(ctx, sc); endErr != nil {
			o.log.WithError(endErr).Warn("remote end_session failed during finalization")
		}
		if _, endErr := o.local.EndSession(ctx, sc); endErr != nil {
			o.log.WithError(endErr).Warn("local end_session failed during finalization")
		}
		o.setState(Ready)
		if err != nil {
			sessionErrors.WithLabelValues(o.config.ScopeName).Inc()
		}
		sessionDurations.WithLabelValues(o.config.ScopeName).Observe(sc.Duration().Seconds())
	}()

	if err = checkCancel(ctx, syncerr.None); err != nil {
		return nil, err
	}

	// Step 1: BeginSession. The remote call may replace the configuration
	// wholesale (server-authoritative config); the local call only
	// normalizes it.
	beginMsg := message.BeginSession{Configuration: o.config, SyncType: syncType}
	var remoteCfg config.Configuration
	if sc, remoteCfg, err = o.remote.BeginSession(ctx, sc, beginMsg); err != nil {
		return nil, syncerr.Providerf(syncerr.BeginSession, err, "remote begin_session failed")
	}
	o.config = remoteCfg
	beginMsg.Configuration = o.config
	if sc, _, err = o.local.BeginSession(ctx, sc, beginMsg); err != nil {
		return nil, syncerr.Providerf(syncerr.BeginSession, err, "local begin_session failed")
	}
	if err = checkCancel(ctx, syncerr.BeginSession); err != nil {
		return nil, err
	}

	// Step 2: EnsureScopes.local.
	var localScopes []scope.Info
	sc, localScopes, err = o.local.EnsureScopes(ctx, sc, message.EnsureScopes{ScopeName: o.config.ScopeName})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.EnsureScopes, err, "local ensure_scopes failed")
	}
	if len(localScopes) != 1 {
		return nil, syncerr.Protocolf("local ensure_scopes returned %d records, want 1", len(localScopes))
	}
	localScopeInfo = localScopes[0]

	// Step 3: EnsureScopes.remote.
	var remoteScopes []scope.Info
	sc, remoteScopes, err = o.remote.EnsureScopes(ctx, sc, message.EnsureScopes{
		ScopeName:         o.config.ScopeName,
		ClientReferenceID: localScopeInfo.ID,
	})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.EnsureScopes, err, "remote ensure_scopes failed")
	}
	if len(remoteScopes) != 2 {
		return nil, syncerr.Protocolf("remote ensure_scopes returned %d records, want 2", len(remoteScopes))
	}
	if remoteScopes[0].ID == localScopeInfo.ID {
		localScopeReferenceInfo, serverScopeInfo = remoteScopes[0], remoteScopes[1]
	} else {
		serverScopeInfo, localScopeReferenceInfo = remoteScopes[0], remoteScopes[1]
	}
	if err = checkCancel(ctx, syncerr.EnsureScopes); err != nil {
		return nil, err
	}

	// Step 4: EnsureSchema.remote -> EnsureSchema.local.
	var schema config.Schema
	sc, schema, err = o.remote.EnsureSchema(ctx, sc, message.EnsureSchema{ScopeName: o.config.ScopeName, Tables: o.config.Tables})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.EnsureSchema, err, "remote ensure_schema failed")
	}
	o.config.Schema = schema
	if sc, _, err = o.local.EnsureSchema(ctx, sc, message.EnsureSchema{ScopeName: o.config.ScopeName, Tables: schema.TablesInOrder()}); err != nil {
		return nil, syncerr.Providerf(syncerr.EnsureSchema, err, "local ensure_schema failed")
	}
	if err = checkCancel(ctx, syncerr.EnsureSchema); err != nil {
		return nil, err
	}

	// Step 5: EnsureDatabase.remote -> EnsureDatabase.local.
	ensureDBMsg := message.EnsureDatabase{Schema: schema, Filters: o.config.Filters}
	ensureDBMsg.Scope = serverScopeInfo
	if sc, err = o.remote.EnsureDatabase(ctx, sc, ensureDBMsg); err != nil {
		return nil, syncerr.Providerf(syncerr.EnsureDatabase, err, "remote ensure_database failed")
	}
	ensureDBMsg.Scope = localScopeInfo
	if sc, err = o.local.EnsureDatabase(ctx, sc, ensureDBMsg); err != nil {
		return nil, syncerr.Providerf(syncerr.EnsureDatabase, err, "local ensure_database failed")
	}
	if err = checkCancel(ctx, syncerr.EnsureDatabase); err != nil {
		return nil, err
	}

	// Step 6: compute the symmetric conflict policy pair.
	serverPolicy := o.config.ConflictPolicy
	clientPolicy := serverPolicy.Opposite()

	// Step 7: capture the client timestamp before any selection, so
	// concurrent local writes landing after this point are guaranteed to
	// be picked up by the next session rather than lost.
	var clientTSraw int64
	sc, clientTSraw, err = o.local.GetLocalTimestamp(ctx, sc, message.Timestamp{})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.SelectingChanges, err, "local get_local_timestamp failed")
	}
	clientTimestamp := synctime.FromClient(synctime.ClientTimestamp(clientTSraw))
	if err = checkCancel(ctx, syncerr.SelectingChanges); err != nil {
		return nil, err
	}

	// Step 8: select client changes, tagged for the server.
	sc.SyncWay = synccontext.Upload
	var clientChangesSelected types.DatabaseChangesSelected
	sc, clientBatch, clientChangesSelected, err = o.local.GetChangeBatch(ctx, sc, message.GetChangesBatch{
		DestinationScopeID: serverScopeInfo.ID,
		IsNewScope:         localScopeInfo.IsNewScope,
		Since:              localScopeInfo.LastSyncTimestamp,
		Policy:             clientPolicy,
		Parameters:         sc.Parameters,
	})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.SelectingChanges, err, "local get_change_batch failed")
	}
	if err = checkCancel(ctx, syncerr.SelectingChanges); err != nil {
		return nil, err
	}

	// Step 9: apply client changes on the remote, using the
	// server-side policy; snapshot conflicts immediately, since the
	// client-side apply in step 12 adds to the same counter.
	sc, _, err = o.remote.ApplyChanges(ctx, sc, message.ApplyChanges{
		OriginScopeID: localScopeInfo.ID,
		IsNewScope:    false,
		Since:         localScopeReferenceInfo.LastSyncTimestamp,
		Policy:        serverPolicy,
		Changes:       clientBatch,
	})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.ApplyingChanges, err, "remote apply_changes failed")
	}
	conflictsOnRemote := sc.Counters.TotalSyncConflicts
	if err = checkCancel(ctx, syncerr.ApplyingChanges); err != nil {
		return nil, err
	}

	// Step 10: capture the server timestamp.
	var serverTSraw int64
	sc, serverTSraw, err = o.remote.GetLocalTimestamp(ctx, sc, message.Timestamp{})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.SelectingChanges, err, "remote get_local_timestamp failed")
	}
	serverTimestamp := synctime.FromServer(synctime.ServerTimestamp(serverTSraw))
	if err = checkCancel(ctx, syncerr.SelectingChanges); err != nil {
		return nil, err
	}

	// Step 11: select server changes.
	sc.SyncWay = synccontext.Download
	sc, serverBatch, _, err = o.remote.GetChangeBatch(ctx, sc, message.GetChangesBatch{
		DestinationScopeID: localScopeInfo.ID,
		IsNewScope:         localScopeReferenceInfo.IsNewScope,
		Since:              localScopeReferenceInfo.LastSyncTimestamp,
		Policy:             serverPolicy,
		Parameters:         sc.Parameters,
	})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.SelectingChanges, err, "remote get_change_batch failed")
	}
	if err = checkCancel(ctx, syncerr.SelectingChanges); err != nil {
		return nil, err
	}

	// Step 12: apply server changes on the local peer. is_new_scope here
	// derives from localScopeInfo (not the reference record): its effect
	// is to suppress applying server-originated deletions on a pristine
	// client.
	var localApplyResult types.DatabaseChangesApplied
	sc, localApplyResult, err = o.local.ApplyChanges(ctx, sc, message.ApplyChanges{
		OriginScopeID: serverScopeInfo.ID,
		IsNewScope:    localScopeInfo.IsNewScope,
		Since:         localScopeInfo.LastSyncTimestamp,
		Policy:        clientPolicy,
		Changes:       serverBatch,
	})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.ApplyingChanges, err, "local apply_changes failed")
	}
	if err = checkCancel(ctx, syncerr.ApplyingChanges); err != nil {
		return nil, err
	}

	// Aggregate counters after step 12.
	sc.Counters.TotalChangesDownloaded = localApplyResult.TotalAppliedChanges
	sc.Counters.TotalChangesUploaded = clientChangesSelected.TotalChangesSelected
	sc.Counters.TotalSyncErrors = localApplyResult.TotalAppliedChangesFailed
	sc.Counters.TotalSyncConflicts = conflictsOnRemote

	rowsUploaded.WithLabelValues(o.config.ScopeName).Add(float64(clientChangesSelected.TotalChangesSelected))
	rowsDownloaded.WithLabelValues(o.config.ScopeName).Add(float64(localApplyResult.TotalAppliedChanges))
	conflictsResolved.WithLabelValues(o.config.ScopeName).Add(float64(conflictsOnRemote))

	// Step 13: update scope bookkeeping in all three records. Complete is
	// idempotent, so stamping CompleteTime here (rather than waiting for
	// the deferred finalizer) lets every record share the exact instant.
	sc.Complete()
	now := sc.CompleteTime
	serverScopeInfo.MarkComplete(sc.StartTime, now)
	localScopeReferenceInfo.MarkComplete(sc.StartTime, now)
	localScopeInfo.MarkComplete(sc.StartTime, now)
	serverScopeInfo.LastSyncTimestamp = serverTimestamp
	localScopeReferenceInfo.LastSyncTimestamp = serverTimestamp
	localScopeInfo.LastSyncTimestamp = clientTimestamp

	// Step 14: persist scopes on the remote.
	serverScopeInfo.IsLocal = true
	localScopeReferenceInfo.IsLocal = false
	sc, err = o.remote.WriteScopes(ctx, sc, message.WriteScopes{Scopes: []scope.Info{serverScopeInfo, localScopeReferenceInfo}})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.WritingScopes, err, "remote write_scopes failed")
	}

	// Step 15: persist scopes on the local peer.
	serverScopeInfo.IsLocal = false
	localScopeInfo.IsLocal = true
	sc, err = o.local.WriteScopes(ctx, sc, message.WriteScopes{Scopes: []scope.Info{serverScopeInfo, localScopeInfo}})
	if err != nil {
		return nil, syncerr.Providerf(syncerr.WritingScopes, err, "local write_scopes failed")
	}

	return sc, nil
}

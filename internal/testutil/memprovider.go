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

// Package testutil provides an in-memory provider.Provider, mirroring
// internal/provider/sqlprovider's scope-table-plus-change-log design
// without a real database, so that orchestrator tests can wire two
// peers together and run real sessions without paying for a pgx pool.
// It assembles a complete, test-only set of services behind the same
// interfaces production code uses.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/scopeid"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/synctime"
	"github.com/cockroachdb/dbsync/internal/types"
)

// Role distinguishes how a MemProvider instance behaves, mirroring
// sqlprovider.Role: a Local peer expects exactly one ScopeInfo from
// ensure_scopes, a Server peer expects two.
type Role int

// The two recognized roles.
const (
	RoleLocal Role = iota
	RoleServer
)

type row struct {
	data json.RawMessage
	ts   int64
}

// MemProvider is a concrete, in-memory implementation of
// provider.Provider, suitable for wiring two instances together to
// exercise a full orchestrator session in a unit test.
type MemProvider struct {
	provider.BaseLocal
	provider.BaseRemote

	role Role

	cancel   <-chan struct{}
	progress provider.ProgressSink
	mutator  provider.ConfigMutator

	mu         sync.Mutex
	clock      int64
	scopes     map[scopeid.ID]scope.Info
	scopesByName map[string]scopeid.ID
	tables     []string
	schema     config.Schema
	data       map[string]map[string]row
	changeLog  map[string][]types.ChangeRow
}

var (
	_ provider.LocalProvider  = (*MemProvider)(nil)
	_ provider.RemoteProvider = (*MemProvider)(nil)
)

// NewLocal returns a fresh MemProvider in the local (client) role.
func NewLocal() *MemProvider { return newMemProvider(RoleLocal) }

// NewRemote returns a fresh MemProvider in the remote (server) role.
func NewRemote() *MemProvider { return newMemProvider(RoleServer) }

func newMemProvider(role Role) *MemProvider {
	return &MemProvider{
		role:         role,
		scopes:       make(map[scopeid.ID]scope.Info),
		scopesByName: make(map[string]scopeid.ID),
		data:         make(map[string]map[string]row),
		changeLog:    make(map[string][]types.ChangeRow),
	}
}

// IsServer implements provider.RemoteProvider. A MemProvider is always a
// direct peer, never a transport proxy.
func (p *MemProvider) IsServer() bool { return true }

func (p *MemProvider) SetCancellation(token <-chan struct{})      { p.cancel = token }
func (p *MemProvider) SetProgress(sink provider.ProgressSink)     { p.progress = sink }
func (p *MemProvider) SetConfiguration(mutate provider.ConfigMutator) { p.mutator = mutate }

// tick advances and returns the provider's logical clock, used both for
// GetLocalTimestamp and for stamping change-log entries, so that tests
// observe a deterministic ordering instead of relying on wall time.
func (p *MemProvider) tick() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickLocked()
}

// BeginSession implements begin_session.
func (p *MemProvider) BeginSession(ctx context.Context, sc *synccontext.SyncContext, msg message.BeginSession) (*synccontext.SyncContext, config.Configuration, error) {
	p.mu.Lock()
	if len(msg.Configuration.Tables) > 0 {
		p.tables = msg.Configuration.Tables
	}
	p.mu.Unlock()

	cfg := msg.Configuration
	if p.mutator != nil {
		p.mutator(&cfg)
	}
	return sc, cfg, nil
}

// EndSession implements end_session; there is nothing to release.
func (p *MemProvider) EndSession(ctx context.Context, sc *synccontext.SyncContext) (*synccontext.SyncContext, error) {
	return sc, nil
}

// EnsureScopes implements ensure_scopes, mirroring sqlprovider's
// role-conditioned behavior.
func (p *MemProvider) EnsureScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureScopes) (*synccontext.SyncContext, []scope.Info, error) {
	self := p.ensureScopeByName(msg.ScopeName)
	self.IsLocal = true
	if p.role == RoleLocal {
		return sc, []scope.Info{self}, nil
	}

	ref := p.ensureScopeByID(msg.ClientReferenceID)
	ref.IsLocal = false
	return sc, []scope.Info{self, ref}, nil
}

func (p *MemProvider) ensureScopeByName(name string) scope.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.scopesByName[name]; ok {
		return p.scopes[id]
	}
	fresh := scope.NewScope(scopeid.New(), name)
	p.scopes[fresh.ID] = fresh
	p.scopesByName[name] = fresh.ID
	return fresh
}

func (p *MemProvider) ensureScopeByID(id scopeid.ID) scope.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.scopes[id]; ok {
		return info
	}
	fresh := scope.NewScope(id, id.String())
	p.scopes[id] = fresh
	p.scopesByName[fresh.Name] = id
	return fresh
}

// EnsureSchema implements ensure_schema, echoing the schema this
// provider was configured with (see WithSchema); real schema
// introspection is treated as an external collaborator.
func (p *MemProvider) EnsureSchema(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureSchema) (*synccontext.SyncContext, config.Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sc, p.schema, nil
}

// WithSchema attaches the schema this provider serves as authoritative,
// for use by the remote peer of a test fixture.
func (p *MemProvider) WithSchema(schema config.Schema) *MemProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schema = schema
	return p
}

// EnsureDatabase implements ensure_database: allocate the in-memory
// table and change-log maps for every configured table.
func (p *MemProvider) EnsureDatabase(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureDatabase) (*synccontext.SyncContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schema = msg.Schema
	if len(p.tables) == 0 {
		p.tables = msg.Schema.TablesInOrder()
	}
	for _, table := range p.tables {
		if _, ok := p.data[table]; !ok {
			p.data[table] = make(map[string]row)
		}
		if _, ok := p.changeLog[table]; !ok {
			p.changeLog[table] = nil
		}
	}
	return sc, nil
}

// GetLocalTimestamp implements get_local_timestamp using the provider's
// own logical clock.
func (p *MemProvider) GetLocalTimestamp(ctx context.Context, sc *synccontext.SyncContext, msg message.Timestamp) (*synccontext.SyncContext, int64, error) {
	return sc, p.tick(), nil
}

// GetChangeBatch implements get_change_batch: it returns every row in
// each configured table's change log newer than msg.Since, or the whole
// log on a full sweep (msg.IsNewScope).
func (p *MemProvider) GetChangeBatch(ctx context.Context, sc *synccontext.SyncContext, msg message.GetChangesBatch) (*synccontext.SyncContext, types.BatchInfo, types.DatabaseChangesSelected, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rows []types.ChangeRow
	for _, table := range p.tables {
		for _, entry := range p.changeLog[table] {
			if !msg.IsNewScope && entry.Timestamp <= msg.Since {
				continue
			}
			rows = append(rows, entry)
		}
	}
	return sc, types.NewMemoryBatch(rows), types.NewChangesSelected(rows), nil
}

// ApplyChanges implements apply_changes: each row is written to its
// table (a delete removes the key) and appended to the destination's own
// change log, resolving same-key conflicts per msg.Policy against
// whether the existing row was written after msg.Since.
func (p *MemProvider) ApplyChanges(ctx context.Context, sc *synccontext.SyncContext, msg message.ApplyChanges) (*synccontext.SyncContext, types.DatabaseChangesApplied, error) {
	applied := types.DatabaseChangesApplied{PerTable: make(map[string]int)}
	if msg.Changes == nil {
		return sc, applied, nil
	}
	rows, err := msg.Changes.Rows()
	if err != nil {
		return sc, applied, errors.Wrap(err, "could not read staged changes")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range rows {
		conflict := p.applyRowLocked(r, msg)
		if conflict {
			sc.Counters.TotalSyncConflicts++
		}
		applied.PerTable[r.Table]++
		applied.TotalAppliedChanges++
	}
	return sc, applied, nil
}

// applyRowLocked applies a single row; callers must hold p.mu.
func (p *MemProvider) applyRowLocked(r types.ChangeRow, msg message.ApplyChanges) (conflict bool) {
	table, ok := p.data[r.Table]
	if !ok {
		table = make(map[string]row)
		p.data[r.Table] = table
	}
	key := string(r.Key)

	existing, hasExisting := table[key]
	winnerIsIncoming := true
	if hasExisting && int64(msg.Since) > 0 && existing.ts > int64(msg.Since) {
		conflict = true
		winnerIsIncoming = msg.Policy == types.ClientWins
	}

	if winnerIsIncoming {
		if r.IsDelete() {
			delete(table, key)
		} else {
			table[key] = row{data: r.Data, ts: p.tickLocked()}
		}
	}

	p.changeLog[r.Table] = append(p.changeLog[r.Table], types.ChangeRow{
		Table:     r.Table,
		Key:       r.Key,
		Data:      r.Data,
		Timestamp: synctime.Opaque(p.tickLocked()),
	})
	return conflict
}

// tickLocked is tick without acquiring p.mu, for callers that already
// hold it.
func (p *MemProvider) tickLocked() int64 {
	p.clock++
	return p.clock
}

// WriteScopes implements write_scopes.
func (p *MemProvider) WriteScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.WriteScopes) (*synccontext.SyncContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, info := range msg.Scopes {
		p.scopes[info.ID] = info
		p.scopesByName[info.Name] = info.ID
	}
	return sc, nil
}

// Scope returns the current record stored for name, for test assertions.
func (p *MemProvider) Scope(name string) (scope.Info, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.scopesByName[name]
	if !ok {
		return scope.Info{}, false
	}
	info, ok := p.scopes[id]
	return info, ok
}

// Row returns the current stored value for key in table, for test
// assertions. The bool return is false if the key is absent.
func (p *MemProvider) Row(table string, key json.RawMessage) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.data[table]
	if !ok {
		return nil, false
	}
	r, ok := t[string(key)]
	if !ok {
		return nil, false
	}
	return r.data, true
}

// PutRow seeds table with a row outside of any session, appending a
// corresponding change-log entry so a subsequent GetChangeBatch call
// picks it up. It is meant for test setup, not for use by the
// orchestrator itself.
func (p *MemProvider) PutRow(table string, key, data json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[table]; !ok {
		p.data[table] = make(map[string]row)
	}
	ts := p.tickLocked()
	p.data[table][string(key)] = row{data: data, ts: ts}
	p.changeLog[table] = append(p.changeLog[table], types.ChangeRow{
		Table: table, Key: key, Data: data, Timestamp: synctime.Opaque(ts),
	})
}

// String renders a short diagnostic summary of the provider's table
// contents, useful when a test assertion fails.
func (p *MemProvider) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	role := "local"
	if p.role == RoleServer {
		role = "server"
	}
	return fmt.Sprintf("MemProvider{role=%s, tables=%v, clock=%d, at=%s}", role, p.tables, p.clock, time.Now().Format(time.RFC3339))
}

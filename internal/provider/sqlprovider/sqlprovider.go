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

// Package sqlprovider implements provider.Provider directly against a
// Postgres-wire database (CockroachDB or PostgreSQL) via pgx. Schema
// introspection, SQL generation, and row diffing are treated as
// external collaborators elsewhere in the system; this package supplies
// a minimal, self-contained mechanism for them so the orchestrator has
// a real peer to drive rather than only a mock. Each operation renders
// its table-name-templated query strings with fmt.Sprintf when it is
// called and runs them with pool.Exec/pool.Query/pool.QueryRow (or the
// transaction equivalents), wrapping failures with github.com/pkg/errors.
package sqlprovider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/scopeid"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/synctime"
	"github.com/cockroachdb/dbsync/internal/types"
)

// changeLogSuffix names the per-table journal sqlprovider maintains
// alongside the actual data table. A real provider would read changes
// from the target peer's own changefeed/binlog; this one keeps its own
// journal so that two sqlprovider instances wired together produce a
// working, if simplified, bidirectional replication loop.
const changeLogSuffix = "_dbsync_log"

// Role distinguishes how a Provider instance behaves: a Local peer
// expects exactly one ScopeInfo from ensure_scopes, a Server peer
// expects two (itself plus a client reference).
type Role int

// The two recognized roles.
const (
	RoleLocal Role = iota
	RoleServer
)

// Provider is a concrete, pgx-backed implementation of provider.Provider.
type Provider struct {
	provider.BaseLocal
	provider.BaseRemote

	pool *pgxpool.Pool
	role Role

	cancel   <-chan struct{}
	progress provider.ProgressSink
	mutator  provider.ConfigMutator

	scopeTable string
	tables     []string
	schema     config.Schema
	log        *log.Entry
}

var (
	_ provider.LocalProvider  = (*Provider)(nil)
	_ provider.RemoteProvider = (*Provider)(nil)
)

// New constructs a Provider of the given role against pool.
func New(pool *pgxpool.Pool, role Role) *Provider {
	roleName := "local"
	if role == RoleServer {
		roleName = "server"
	}
	return &Provider{
		pool:       pool,
		role:       role,
		scopeTable: "scope_info",
		log:        log.WithField("role", roleName),
	}
}

// IsServer implements provider.RemoteProvider. A direct sqlprovider
// peer is always server-capable; only a transport proxy is not (see
// internal/provider/proxy).
func (p *Provider) IsServer() bool { return true }

func (p *Provider) SetCancellation(token <-chan struct{}) { p.cancel = token }
func (p *Provider) SetProgress(sink provider.ProgressSink) { p.progress = sink }
func (p *Provider) SetConfiguration(mutate provider.ConfigMutator) { p.mutator = mutate }

func (p *Provider) emit(stage string, msg string) {
	if p.progress != nil {
		p.progress.OnProgress(provider.ProgressArgs{Stage: stage, Message: msg})
	}
}

// BeginSession implements begin_session. It ensures the scope table
// exists and, when a mutator was installed via SetConfiguration, applies
// it (the proxy exception disallowing this is enforced by the proxy
// package, not here).
func (p *Provider) BeginSession(ctx context.Context, sc *synccontext.SyncContext, msg message.BeginSession) (*synccontext.SyncContext, config.Configuration, error) {
	p.scopeTable = scope.TableName(msg.Configuration.ScopeInfoTableName)
	if len(msg.Configuration.Tables) > 0 {
		p.tables = msg.Configuration.Tables
	}
	cfg := msg.Configuration
	if p.mutator != nil {
		p.mutator(&cfg)
	}

	createScopeTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id                   UUID PRIMARY KEY,
  name                 STRING NOT NULL,
  is_local             BOOL NOT NULL,
  is_new_scope         BOOL NOT NULL,
  last_sync_timestamp  INT8 NOT NULL DEFAULT 0,
  last_sync            TIMESTAMPTZ,
  last_sync_duration_ns INT8 NOT NULL DEFAULT 0
)`, p.scopeTable)
	if _, err := p.pool.Exec(ctx, createScopeTable); err != nil {
		return sc, cfg, errors.Wrap(err, "could not create scope table")
	}
	p.emit("begin_session", "scope table ready")
	return sc, cfg, nil
}

// EndSession implements end_session. There is nothing to release at the
// connection level since pgxpool manages connection lifetime.
func (p *Provider) EndSession(ctx context.Context, sc *synccontext.SyncContext) (*synccontext.SyncContext, error) {
	return sc, nil
}

// EnsureScopes implements ensure_scopes. A RoleLocal provider returns
// exactly its own record; a RoleServer provider returns its own record
// plus the reference record for msg.ClientReferenceID, inserting either
// as a fresh scope if not yet present.
func (p *Provider) EnsureScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureScopes) (*synccontext.SyncContext, []scope.Info, error) {
	self, err := p.ensureScopeByName(ctx, msg.ScopeName)
	if err != nil {
		return sc, nil, err
	}
	self.IsLocal = true
	if p.role == RoleLocal {
		return sc, []scope.Info{self}, nil
	}

	ref, err := p.ensureScopeByID(ctx, msg.ClientReferenceID)
	if err != nil {
		return sc, nil, err
	}
	ref.IsLocal = false
	return sc, []scope.Info{self, ref}, nil
}

// ensureScopeByName loads the caller's own scope row, keyed by its
// (stable, configured) scope name, creating it as a fresh scope on first
// use and assigning it a random id at that point.
func (p *Provider) ensureScopeByName(ctx context.Context, name string) (scope.Info, error) {
	query := fmt.Sprintf(`
SELECT id, name, is_local, is_new_scope, last_sync_timestamp, last_sync, last_sync_duration_ns
FROM %[1]s WHERE name = $1`, p.scopeTable)
	info, found, err := p.scanScopeRow(ctx, query, name)
	if err != nil {
		return scope.Info{}, err
	}
	if found {
		return info, nil
	}
	fresh := scope.NewScope(scopeid.New(), name)
	if err := p.writeScopeRow(ctx, fresh); err != nil {
		return scope.Info{}, err
	}
	return fresh, nil
}

// ensureScopeByID loads the reference row this server keeps for a given
// client id, creating it as a fresh scope on first use.
func (p *Provider) ensureScopeByID(ctx context.Context, id scopeid.ID) (scope.Info, error) {
	query := fmt.Sprintf(`
SELECT id, name, is_local, is_new_scope, last_sync_timestamp, last_sync, last_sync_duration_ns
FROM %[1]s WHERE id = $1`, p.scopeTable)
	info, found, err := p.scanScopeRow(ctx, query, id.String())
	if err != nil {
		return scope.Info{}, err
	}
	if found {
		return info, nil
	}
	fresh := scope.NewScope(id, id.String())
	if err := p.writeScopeRow(ctx, fresh); err != nil {
		return scope.Info{}, err
	}
	return fresh, nil
}

func (p *Provider) scanScopeRow(ctx context.Context, query string, arg any) (scope.Info, bool, error) {
	var (
		info       scope.Info
		idStr      string
		lastSync   sql.NullTime
		durationNs int64
	)
	row := p.pool.QueryRow(ctx, query, arg)
	err := row.Scan(&idStr, &info.Name, &info.IsLocal, &info.IsNewScope, &info.LastSyncTimestamp, &lastSync, &durationNs)
	switch {
	case err == nil:
		id, perr := scopeid.Parse(idStr)
		if perr != nil {
			return scope.Info{}, false, errors.Wrap(perr, "could not parse scope id")
		}
		info.ID = id
		info.LastSyncDuration = time.Duration(durationNs)
		if lastSync.Valid {
			info.LastSync = lastSync.Time
		}
		return info, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return scope.Info{}, false, nil
	default:
		return scope.Info{}, false, errors.Wrap(err, "could not read scope row")
	}
}

func (p *Provider) writeScopeRow(ctx context.Context, info scope.Info) error {
	upsert := fmt.Sprintf(`
UPSERT INTO %[1]s (id, name, is_local, is_new_scope, last_sync_timestamp, last_sync, last_sync_duration_ns)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.scopeTable)
	var lastSync any
	if !info.LastSync.IsZero() {
		lastSync = info.LastSync
	}
	_, err := p.pool.Exec(ctx, upsert,
		info.ID.String(), info.Name, info.IsLocal, info.IsNewScope,
		int64(info.LastSyncTimestamp), lastSync, info.LastSyncDuration.Nanoseconds())
	if err != nil {
		return errors.Wrap(err, "could not write scope row")
	}
	return nil
}

// EnsureSchema implements ensure_schema. This provider is configured
// with its schema ahead of time (by its caller, typically from
// Configuration.Schema), and simply echoes it back; real schema
// introspection is treated as an external collaborator.
func (p *Provider) EnsureSchema(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureSchema) (*synccontext.SyncContext, config.Schema, error) {
	return sc, p.schema, nil
}

// WithSchema attaches the schema this provider serves as authoritative.
func (p *Provider) WithSchema(schema config.Schema) *Provider {
	p.schema = schema
	return p
}

// EnsureDatabase implements ensure_database: create the data table and
// its change-log journal for every configured table.
func (p *Provider) EnsureDatabase(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureDatabase) (*synccontext.SyncContext, error) {
	p.schema = msg.Schema
	if len(p.tables) == 0 {
		p.tables = msg.Schema.TablesInOrder()
	}
	for _, table := range msg.Schema.TablesInOrder() {
		sanitizedData := pgx.Identifier{table}.Sanitize()
		dataTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  key  JSONB PRIMARY KEY,
  data JSONB,
  ts   INT8 NOT NULL DEFAULT 0
)`, sanitizedData)
		if _, err := p.pool.Exec(ctx, dataTable); err != nil {
			return sc, errors.Wrapf(err, "could not create data table %q", table)
		}
		// CREATE TABLE IF NOT EXISTS is a no-op against a table that
		// already existed before the ts column was introduced, so it is
		// added separately here for tables migrating forward.
		addTs := fmt.Sprintf(`ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS ts INT8 NOT NULL DEFAULT 0`, sanitizedData)
		if _, err := p.pool.Exec(ctx, addTs); err != nil {
			return sc, errors.Wrapf(err, "could not add ts column to data table %q", table)
		}
		logTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  seq  INT8 DEFAULT unique_rowid() PRIMARY KEY,
  key  JSONB NOT NULL,
  data JSONB,
  ts   INT8 NOT NULL
)`, pgx.Identifier{table + changeLogSuffix}.Sanitize())
		if _, err := p.pool.Exec(ctx, logTable); err != nil {
			return sc, errors.Wrapf(err, "could not create change log table %q", table)
		}
	}
	p.emit("ensure_database", "tables ready")
	return sc, nil
}

// GetLocalTimestamp implements get_local_timestamp by reading the
// database's clock_timestamp() as nanoseconds since the Unix epoch. This
// is the database's wall clock, not a logical clock, so it is not
// guaranteed to be monotonic.
func (p *Provider) GetLocalTimestamp(ctx context.Context, sc *synccontext.SyncContext, msg message.Timestamp) (*synccontext.SyncContext, int64, error) {
	var ts int64
	if err := p.pool.QueryRow(ctx, `SELECT extract(epoch from clock_timestamp())*1e9`).Scan(&ts); err != nil {
		return sc, 0, errors.Wrap(err, "could not read local timestamp")
	}
	return sc, ts, nil
}

// GetChangeBatch implements get_change_batch: it scans every configured
// table's change log for rows newer than msg.Since (or every row, when
// msg.IsNewScope triggers a full sweep).
func (p *Provider) GetChangeBatch(ctx context.Context, sc *synccontext.SyncContext, msg message.GetChangesBatch) (*synccontext.SyncContext, types.BatchInfo, types.DatabaseChangesSelected, error) {
	var rows []types.ChangeRow
	for _, table := range p.tables {
		logTable := pgx.Identifier{table + changeLogSuffix}.Sanitize()
		var query string
		var args []any
		if msg.IsNewScope {
			query = fmt.Sprintf(`SELECT key, data, ts FROM %s ORDER BY seq`, logTable)
		} else {
			query = fmt.Sprintf(`SELECT key, data, ts FROM %s WHERE ts > $1 ORDER BY seq`, logTable)
			args = []any{int64(msg.Since)}
		}
		result, err := p.pool.Query(ctx, query, args...)
		if err != nil {
			return sc, nil, types.DatabaseChangesSelected{}, errors.Wrapf(err, "could not select changes for %q", table)
		}
		for result.Next() {
			var key, data json.RawMessage
			var ts int64
			if err := result.Scan(&key, &data, &ts); err != nil {
				result.Close()
				return sc, nil, types.DatabaseChangesSelected{}, errors.Wrap(err, "could not scan change row")
			}
			rows = append(rows, types.ChangeRow{Table: table, Key: key, Data: data, Timestamp: synctime.Opaque(ts)})
		}
		result.Close()
		if err := result.Err(); err != nil {
			return sc, nil, types.DatabaseChangesSelected{}, errors.Wrapf(err, "error scanning changes for %q", table)
		}
	}
	return sc, types.NewMemoryBatch(rows), types.NewChangesSelected(rows), nil
}

// ApplyChanges implements apply_changes: each row is written to its data
// table (deletes remove the row) and appended to the destination's own
// change log so the next session in the other direction observes it,
// resolving same-key conflicts per msg.Policy against the current
// timestamp recorded for that key.
func (p *Provider) ApplyChanges(ctx context.Context, sc *synccontext.SyncContext, msg message.ApplyChanges) (*synccontext.SyncContext, types.DatabaseChangesApplied, error) {
	applied := types.DatabaseChangesApplied{PerTable: make(map[string]int)}
	if msg.Changes == nil {
		return sc, applied, nil
	}
	rows, err := msg.Changes.Rows()
	if err != nil {
		return sc, applied, errors.Wrap(err, "could not read staged changes")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return sc, applied, errors.Wrap(err, "could not begin apply transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Read once per batch rather than once per row: every upsert in this
	// transaction shares the same apply timestamp.
	var localTs int64
	if err := tx.QueryRow(ctx, `SELECT extract(epoch from clock_timestamp())*1e9`).Scan(&localTs); err != nil {
		return sc, applied, errors.Wrap(err, "could not read local timestamp")
	}

	for _, row := range rows {
		conflict, err := p.applyRow(ctx, tx, row, msg.Since, msg.Policy, localTs)
		if err != nil {
			applied.TotalAppliedChangesFailed++
			p.log.WithError(err).WithField("table", row.Table).Warn("failed to apply change row")
			continue
		}
		if conflict {
			sc.Counters.TotalSyncConflicts++
		}
		applied.PerTable[row.Table]++
		applied.TotalAppliedChanges++
	}

	if err := tx.Commit(ctx); err != nil {
		return sc, applied, errors.Wrap(err, "could not commit apply transaction")
	}
	return sc, applied, nil
}

// applyRow applies a single change row within tx, reporting whether the
// target row had been independently modified after since (a conflict),
// in which case policy decides the winner. A key is only a conflict when
// it already has a row AND that row's own ts is newer than since; a
// fresh or already-caught-up key is a clean upsert, not a conflict.
// localTs is the batch's shared apply timestamp, read once by the caller.
func (p *Provider) applyRow(ctx context.Context, tx pgx.Tx, row types.ChangeRow, since synctime.Opaque, policy types.ConflictPolicy, localTs int64) (conflict bool, err error) {
	dataTable := pgx.Identifier{row.Table}.Sanitize()
	logTable := pgx.Identifier{row.Table + changeLogSuffix}.Sanitize()

	var existingTs int64
	selectErr := tx.QueryRow(ctx, fmt.Sprintf(`SELECT ts FROM %s WHERE key = $1`, dataTable), row.Key).Scan(&existingTs)
	hasExisting := selectErr == nil
	if selectErr != nil && !errors.Is(selectErr, pgx.ErrNoRows) {
		return false, errors.Wrap(selectErr, "could not read existing row")
	}

	winnerIsIncoming := true
	if hasExisting && int64(since) > 0 && existingTs > int64(since) {
		conflict = true
		winnerIsIncoming = policy == types.ClientWins
	}

	if winnerIsIncoming {
		if row.IsDelete() {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, dataTable), row.Key); err != nil {
				return conflict, errors.Wrap(err, "could not delete row")
			}
		} else {
			upsert := fmt.Sprintf(`UPSERT INTO %s (key, data, ts) VALUES ($1, $2, $3)`, dataTable)
			if _, err := tx.Exec(ctx, upsert, row.Key, row.Data, localTs); err != nil {
				return conflict, errors.Wrap(err, "could not upsert row")
			}
		}
	}

	insertLog := fmt.Sprintf(`INSERT INTO %s (key, data, ts) VALUES ($1, $2, $3)`, logTable)
	if _, err := tx.Exec(ctx, insertLog, row.Key, row.Data, int64(row.Timestamp)); err != nil {
		return conflict, errors.Wrap(err, "could not append change log entry")
	}
	return conflict, nil
}

// WriteScopes implements write_scopes.
func (p *Provider) WriteScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.WriteScopes) (*synccontext.SyncContext, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return sc, errors.Wrap(err, "could not begin write_scopes transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, info := range msg.Scopes {
		upsert := fmt.Sprintf(`
UPSERT INTO %[1]s (id, name, is_local, is_new_scope, last_sync_timestamp, last_sync, last_sync_duration_ns)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.scopeTable)
		var lastSync any
		if !info.LastSync.IsZero() {
			lastSync = info.LastSync
		}
		if _, err := tx.Exec(ctx, upsert,
			info.ID.String(), info.Name, info.IsLocal, info.IsNewScope,
			int64(info.LastSyncTimestamp), lastSync, info.LastSyncDuration.Nanoseconds()); err != nil {
			return sc, errors.Wrap(err, "could not write scope row")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return sc, errors.Wrap(err, "could not commit write_scopes transaction")
	}
	return sc, nil
}

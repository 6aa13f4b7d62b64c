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

// Package wire assembles a direct, database-backed Orchestrator from
// connection strings: small Provide functions, each returning a value
// plus a cleanup func, chained together by a generated-looking
// constructor.
package wire

import (
	"context"

	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cockroachdb/dbsync/internal/orchestrator"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/provider/sqlprovider"
	"github.com/cockroachdb/dbsync/internal/util/diag"
	"github.com/cockroachdb/dbsync/internal/util/stdpool"
	"github.com/cockroachdb/dbsync/internal/util/stopper"
)

// Set collects every provider in this package for wire's code
// generator; see wire_gen.go for the hand-maintained equivalent this
// module ships instead of a generated file.
var Set = wire.NewSet(
	ProvideContext,
	ProvideDiagnostics,
	ProvideLocalPool,
	ProvideRemotePool,
	ProvideLocalProvider,
	ProvideRemoteProvider,
)

// ProvideContext returns the root stopper.Context governing every
// background goroutine a pool or provider spawns.
func ProvideContext() (*stopper.Context, func(), error) {
	ctx := stopper.WithContext(context.Background())
	return ctx, ctx.Stop, nil
}

// ProvideDiagnostics returns the shared health-check registry.
func ProvideDiagnostics(ctx *stopper.Context) (*diag.Diagnostics, func()) {
	return diag.New(ctx)
}

// ProvideLocalPool opens the connection pool backing the local peer.
func ProvideLocalPool(ctx *stopper.Context, diags *diag.Diagnostics, connectString string) (*pgxpool.Pool, func(), error) {
	pool, err := stdpool.OpenPgxPool(ctx, connectString, stdpool.WithDiagnostics(diags, "local"))
	if err != nil {
		return nil, func() {}, err
	}
	return pool, func() {}, nil
}

// ProvideRemotePool opens the connection pool backing the remote peer.
func ProvideRemotePool(ctx *stopper.Context, diags *diag.Diagnostics, connectString string) (*pgxpool.Pool, func(), error) {
	pool, err := stdpool.OpenPgxPool(ctx, connectString, stdpool.WithDiagnostics(diags, "remote"))
	if err != nil {
		return nil, func() {}, err
	}
	return pool, func() {}, nil
}

// ProvideLocalProvider constructs the local peer's Provider.
func ProvideLocalProvider(pool *pgxpool.Pool) provider.LocalProvider {
	return sqlprovider.New(pool, sqlprovider.RoleLocal)
}

// ProvideRemoteProvider constructs the remote peer's Provider.
func ProvideRemoteProvider(pool *pgxpool.Pool) provider.RemoteProvider {
	return sqlprovider.New(pool, sqlprovider.RoleServer)
}

// ProvideOrchestrator wires the two peers into an Orchestrator using the
// direct, tables-aware construction variant.
func ProvideOrchestrator(
	local provider.LocalProvider,
	remote provider.RemoteProvider,
	scopeName string,
	tables []string,
	observer orchestrator.Observer,
) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(local, remote, scopeName, tables, observer)
}

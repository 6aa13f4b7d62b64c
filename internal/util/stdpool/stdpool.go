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

// Package stdpool creates standardized database connection pools for
// sqlprovider, sharing a common Option/attachOptions/ping-retry
// discipline across a pgx-native pool opener (for the Postgres-wire
// scope tables dbsync itself uses) and a database/sql-based opener kept
// alongside in my.go for non-pgx peer databases.
package stdpool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cockroachdb/dbsync/internal/util/diag"
	"github.com/cockroachdb/dbsync/internal/util/stopper"
)

// TestControls allows tests to relax the usual fail-fast connection
// behavior, via the same attachOptions pattern used in my.go.
type TestControls struct {
	WaitForStartup bool
}

type settings struct {
	TestControls
	maxConns    int32
	diagnostics *diag.Diagnostics
	diagName    string
}

// Option configures a pool opened by OpenPgxPool.
type Option interface {
	apply(*settings)
}

type optionFunc func(*settings)

func (f optionFunc) apply(s *settings) { f(s) }

// WithWaitForStartup causes the opener to retry a failed ping rather
// than fail immediately, useful in tests that race a database
// container's startup.
func WithWaitForStartup() Option {
	return optionFunc(func(s *settings) { s.WaitForStartup = true })
}

// WithMaxPoolSize bounds the number of simultaneous connections.
func WithMaxPoolSize(n int32) Option {
	return optionFunc(func(s *settings) { s.maxConns = n })
}

// WithDiagnostics registers the opened pool's health under name in
// diags.
func WithDiagnostics(diags *diag.Diagnostics, name string) Option {
	return optionFunc(func(s *settings) { s.diagnostics = diags; s.diagName = name })
}

func attachOptions(options []Option) *settings {
	s := &settings{}
	for _, opt := range options {
		opt.apply(s)
	}
	return s
}

// poolHealth adapts a *pgxpool.Pool to diag.Healther.
type poolHealth struct{ pool *pgxpool.Pool }

func (h poolHealth) Health(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

// OpenPgxPool opens a connection pool against a Postgres-wire database
// (CockroachDB or PostgreSQL) and returns the pool; there is no cleanup
// func. A *stopper.Context governs the pool's lifetime, a
// background goroutine closes the pool when the stopper starts
// stopping, and a ping-retry loop accommodates a database that is still
// starting up when WithWaitForStartup is set.
func OpenPgxPool(ctx *stopper.Context, connectString string, options ...Option) (*pgxpool.Pool, error) {
	s := attachOptions(options)

	cfg, err := pgxpool.ParseConfig(connectString)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse pool connect string")
	}
	if s.maxConns > 0 {
		cfg.MaxConns = s.maxConns
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		pool.Close()
		return nil
	})

ping:
	if err := pool.Ping(ctx); err != nil {
		if s.WaitForStartup {
			log.WithError(err).Info("waiting for database to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Second):
				goto ping
			}
		}
		return nil, errors.Wrap(err, "could not ping the database")
	}

	if s.diagnostics != nil {
		if err := s.diagnostics.Register(s.diagName, poolHealth{pool: pool}); err != nil {
			return nil, err
		}
	}

	log.WithField("maxConns", cfg.MaxConns).Info("opened connection pool")
	return pool, nil
}

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

package stdpool

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"time"

	_ "github.com/go-sql-driver/mysql" // register driver
	_ "github.com/lib/pq"              // register driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cockroachdb/dbsync/internal/util/stopper"
)

// OpenStdPool opens a database/sql pool against driverName (either
// "mysql" or "postgres"), for sqlprovider implementations that target a
// non-pgx peer database. It shares the same driver-agnostic shape as
// OpenPgxPool: the same Option/attachOptions settings, the same
// returnOrStop-style background close tied to the stopper, and the same
// ping-retry loop.
func OpenStdPool(ctx *stopper.Context, driverName, dataSourceName string, options ...Option) (*sql.DB, error) {
	s := attachOptions(options)

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if s.maxConns > 0 {
		db.SetMaxOpenConns(int(s.maxConns))
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		if err := db.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("could not close database connection")
		}
		return nil
	})

ping:
	if err := db.PingContext(ctx); err != nil {
		if s.WaitForStartup && isTransientStartupError(err) {
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
		if err := s.diagnostics.Register(s.diagName, stdHealth{db: db}); err != nil {
			return nil, err
		}
	}

	log.WithField("driver", driverName).Info("opened connection pool")
	return db, nil
}

type stdHealth struct{ db *sql.DB }

func (h stdHealth) Health(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func isTransientStartupError(err error) bool {
	switch err {
	case sqldriver.ErrBadConn:
		return true
	default:
		return false
	}
}

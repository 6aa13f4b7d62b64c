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

package testutil

import (
	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/orchestrator"
)

// Fixture bundles a local/remote MemProvider pair with an Orchestrator
// already wired against them, handing a test a ready-to-drive set of
// services rather than requiring each test to repeat the wiring.
type Fixture struct {
	Local  *MemProvider
	Remote *MemProvider
	Orch   *orchestrator.Orchestrator
}

// NewFixture constructs a Fixture whose two peers share schema for
// tables, using scopeName as the replication scope. The remote peer's
// schema is seeded with an empty ColumnData set per table, which is
// sufficient for the in-memory providers' JSONB-style key/data rows;
// tests that need real column metadata should populate Remote's schema
// via WithSchema before calling Fixture helpers that depend on it.
func NewFixture(scopeName string, tables []string) (*Fixture, error) {
	local := NewLocal()
	remote := NewRemote()

	columns := make(map[string][]config.ColumnData, len(tables))
	for _, t := range tables {
		columns[t] = []config.ColumnData{{Name: "key", Primary: true}, {Name: "data"}}
	}
	remote.WithSchema(config.Schema{Columns: columns})

	orch, err := orchestrator.New(local, remote, scopeName, tables, nil)
	if err != nil {
		return nil, err
	}
	return &Fixture{Local: local, Remote: remote, Orch: orch}, nil
}

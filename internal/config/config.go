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

// Package config defines the Configuration carried through a sync
// session: a struct with a Bind method that registers pflag flags and a
// Preflight method that validates the result.
package config

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/cockroachdb/dbsync/internal/types"
)

// SerializationFormat selects the wire encoding used by MessageEnvelope
// payloads that cross a proxy transport.
type SerializationFormat int

// The recognized formats.
const (
	Json SerializationFormat = iota
	Binary
)

// String implements fmt.Stringer.
func (f SerializationFormat) String() string {
	if f == Binary {
		return "Binary"
	}
	return "Json"
}

// ColumnData holds SQL column metadata for a single table.
type ColumnData struct {
	Name    string
	Primary bool
	Ignored bool
	Type    string
}

// Schema holds the per-table column metadata negotiated during
// EnsureSchema. It is the authoritative definition the remote peer
// hands down during that phase.
type Schema struct {
	Columns map[string][]ColumnData
}

// TablesInOrder returns the table names with a stable order, useful for
// deterministic EnsureDatabase runs.
func (s Schema) TablesInOrder() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter expresses a row-level filter predicate bound to a table.
type Filter struct {
	Table      string
	Expression string
}

// Configuration carries the session-wide settings threaded into
// BeginSession and read by providers throughout the session. It is
// owned by the session, not by either peer: it starts out built from
// the client/library caller and may be replaced wholesale by the remote
// peer's BeginSession response (server-authoritative config).
type Configuration struct {
	ScopeName            string
	ScopeInfoTableName    string
	SerializationFormat  SerializationFormat
	Schema               Schema
	Filters              []Filter
	ConflictPolicy       types.ConflictPolicy
	BatchSize            int
	BatchDirectory       string
	Tables               []string
}

// DefaultBatchSize is the default order of magnitude for a single apply
// batch.
const DefaultBatchSize = 1000

// Bind registers the configuration's flags.
func (c *Configuration) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.ScopeName, "scopeName", "DefaultScope",
		"the logical replication scope name shared by all three scope records")
	flags.StringVar(&c.ScopeInfoTableName, "scopeInfoTable", "scope_info",
		"the name of the per-peer scope-tracking table")
	flags.IntVar(&c.BatchSize, "batchSize", DefaultBatchSize,
		"the maximum number of change rows staged per batch")
	flags.StringVar(&c.BatchDirectory, "batchDirectory", "",
		"a directory used to stage large change batches on disk; empty keeps batches in memory")
	flags.StringSliceVar(&c.Tables, "tables", nil,
		"tables to register with both peers when using the direct, tables-aware construction variant")
}

// Preflight validates the configuration, returning a descriptive error
// rather than panicking.
func (c *Configuration) Preflight() error {
	if c.ScopeName == "" {
		return errors.New("scopeName unset")
	}
	if c.ScopeInfoTableName == "" {
		c.ScopeInfoTableName = "scope_info"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return nil
}

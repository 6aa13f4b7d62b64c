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

package sqlprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider"
)

// These tests exercise the parts of Provider that do not require a live
// pgx connection; the rest of the package is covered end-to-end through
// internal/testutil's in-memory stand-in, which mirrors this provider's
// role-conditioned scope/table/change-log design.

func TestNewDefaultsScopeTableName(t *testing.T) {
	p := New(nil, RoleLocal)
	assert.Equal(t, "scope_info", p.scopeTable)
}

func TestProviderSatisfiesBothCapabilityInterfaces(t *testing.T) {
	var _ provider.LocalProvider = New(nil, RoleLocal)
	var _ provider.RemoteProvider = New(nil, RoleServer)
}

func TestIsServerAlwaysTrueForDirectPeer(t *testing.T) {
	assert.True(t, New(nil, RoleLocal).IsServer())
	assert.True(t, New(nil, RoleServer).IsServer())
}

func TestWithSchemaIsRetainedByEnsureSchema(t *testing.T) {
	schema := config.Schema{Columns: map[string][]config.ColumnData{
		"widgets": {{Name: "key", Primary: true}, {Name: "data"}},
	}}
	p := New(nil, RoleServer).WithSchema(schema)
	_, got, err := p.EnsureSchema(context.Background(), nil, message.EnsureSchema{})
	assert.NoError(t, err)
	assert.Equal(t, schema, got)
}

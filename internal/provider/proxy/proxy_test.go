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

package proxy

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider/proxy/trust"
	"github.com/cockroachdb/dbsync/internal/scopeid"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/testutil"
	"github.com/cockroachdb/dbsync/internal/types"
)

func TestClientHandlerRoundTrip(t *testing.T) {
	target := testutil.NewRemote()
	handler := NewHandler(target, trust.AllowAll())
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient(server.URL, "")
	ctx := context.Background()
	sc := synccontext.New(synccontext.Normal, synccontext.NewParameters())

	sc, cfg, err := client.BeginSession(ctx, sc, message.BeginSession{
		Configuration: config.Configuration{ScopeName: "Widgets", Tables: []string{"widgets"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Widgets", cfg.ScopeName)
	require.NotNil(t, sc)

	sc, infos, err := client.EnsureScopes(ctx, sc, message.EnsureScopes{ScopeName: "Widgets", ClientReferenceID: scopeid.New()})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	sc, schema, err := client.EnsureSchema(ctx, sc, message.EnsureSchema{ScopeName: "Widgets", Tables: []string{"widgets"}})
	require.NoError(t, err)
	assert.NotNil(t, schema)

	sc, err = client.EnsureDatabase(ctx, sc, message.EnsureDatabase{Schema: config.Schema{
		Columns: map[string][]config.ColumnData{"widgets": {{Name: "key", Primary: true}, {Name: "data"}}},
	}})
	require.NoError(t, err)

	sc, ts, err := client.GetLocalTimestamp(ctx, sc, message.Timestamp{})
	require.NoError(t, err)
	assert.Greater(t, ts, int64(0))

	target.PutRow("widgets", []byte(`"1"`), []byte(`{"v":1}`))

	sc, batch, selected, err := client.GetChangeBatch(ctx, sc, message.GetChangesBatch{
		IsNewScope: true,
		Policy:     types.ServerWins,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, selected.TotalChangesSelected)
	rows, err := batch.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "widgets", rows[0].Table)

	sc, applied, err := client.ApplyChanges(ctx, sc, message.ApplyChanges{
		Policy:  types.ServerWins,
		Changes: types.NewMemoryBatch([]types.ChangeRow{{Table: "widgets", Key: []byte(`"2"`), Data: []byte(`{"v":2}`)}}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied.TotalAppliedChanges)

	sc, err = client.WriteScopes(ctx, sc, message.WriteScopes{})
	require.NoError(t, err)

	sc, err = client.EndSession(ctx, sc)
	require.NoError(t, err)
	require.NotNil(t, sc)

	stored, ok := target.Row("widgets", []byte(`"2"`))
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(stored))
}

func TestClientSurfacesUnauthorized(t *testing.T) {
	target := testutil.NewRemote()
	handler := NewHandler(target, trust.New("s3cr3t"))
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient(server.URL, "wrong")
	_, _, err := client.BeginSession(context.Background(), synccontext.New(synccontext.Normal, nil), message.BeginSession{})
	assert.Error(t, err)
}

func TestClientSurfacesTargetError(t *testing.T) {
	target := testutil.NewRemote()
	handler := NewHandler(target, trust.AllowAll())
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient(server.URL, "")
	_, _, err := client.BeginSession(context.Background(), synccontext.New(synccontext.Normal, nil), message.BeginSession{})
	require.NoError(t, err)

	// An unknown operation dispatched straight to the handler, bypassing
	// HTTP, is rejected with an error.
	raw, _ := json.Marshal(struct {
		Op      string `json:"op"`
		Context any    `json:"context"`
		Payload any    `json:"payload"`
	}{Op: "not_a_real_op"})
	req := wireRequest{}
	require.NoError(t, json.Unmarshal(raw, &req))
	_, _, err = handler.dispatch(context.Background(), req)
	assert.ErrorContains(t, err, "unknown proxy operation")
}

func TestClientIsServerReportsFalse(t *testing.T) {
	client := NewClient("http://example.invalid", "")
	assert.False(t, client.IsServer())
}

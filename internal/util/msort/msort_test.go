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

package msort

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cockroachdb/dbsync/internal/synctime"
	"github.com/cockroachdb/dbsync/internal/types"
)

func TestUniqueByKeyKeepsLatest(t *testing.T) {
	rows := []types.ChangeRow{
		{Table: "widgets", Key: []byte(`"1"`), Data: []byte(`{"v":1}`), Timestamp: 1},
		{Table: "widgets", Key: []byte(`"1"`), Data: []byte(`{"v":2}`), Timestamp: 5},
		{Table: "widgets", Key: []byte(`"2"`), Data: []byte(`{"v":9}`), Timestamp: 2},
	}
	out := UniqueByKey(rows)
	assert.Len(t, out, 2)

	byKey := make(map[string]types.ChangeRow, len(out))
	for _, r := range out {
		byKey[string(r.Key)] = r
	}
	assert.Equal(t, synctime.Opaque(5), byKey[`"1"`].Timestamp)
	assert.Equal(t, synctime.Opaque(2), byKey[`"2"`].Timestamp)
}

func TestUniqueByKeyPanicsOnEmptyKey(t *testing.T) {
	assert.Panics(t, func() {
		UniqueByKey([]types.ChangeRow{{Table: "widgets"}})
	})
}

func TestSortByTimestampStable(t *testing.T) {
	rows := []types.ChangeRow{
		{Key: []byte(`"c"`), Timestamp: 3},
		{Key: []byte(`"a"`), Timestamp: 1},
		{Key: []byte(`"b1"`), Timestamp: 2},
		{Key: []byte(`"b2"`), Timestamp: 2},
	}
	out := SortByTimestamp(rows)
	require := assert.New(t)
	require.Len(out, 4)
	require.Equal(synctime.Opaque(1), out[0].Timestamp)
	require.Equal(synctime.Opaque(2), out[1].Timestamp)
	require.Equal(`"b1"`, string(out[1].Key))
	require.Equal(`"b2"`, string(out[2].Key))
	require.Equal(synctime.Opaque(3), out[3].Timestamp)

	// original input must be untouched.
	assert.Equal(t, synctime.Opaque(3), rows[0].Timestamp)
}

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

package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cockroachdb/dbsync/internal/scopeid"
)

func TestNewScopeIsNew(t *testing.T) {
	id := scopeid.New()
	info := NewScope(id, "widgets")
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "widgets", info.Name)
	assert.True(t, info.IsNewScope)
	assert.True(t, info.LastSync.IsZero())
}

func TestMarkComplete(t *testing.T) {
	info := NewScope(scopeid.New(), "widgets")
	start := time.Now()
	done := start.Add(5 * time.Second)
	info.MarkComplete(start, done)
	assert.False(t, info.IsNewScope)
	assert.Equal(t, done, info.LastSync)
	assert.Equal(t, 5*time.Second, info.LastSyncDuration)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "scope_info", TableName(""))
	assert.Equal(t, "custom_scopes", TableName("custom_scopes"))
}

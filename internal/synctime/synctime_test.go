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

package synctime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cockroachdb/dbsync/internal/synctime"
)

func TestClientRoundTripsThroughOpaque(t *testing.T) {
	orig := synctime.ClientTimestamp(42)
	assert.Equal(t, orig, synctime.FromClient(orig).AsClient())
}

func TestServerRoundTripsThroughOpaque(t *testing.T) {
	orig := synctime.ServerTimestamp(99)
	assert.Equal(t, orig, synctime.FromServer(orig).AsServer())
}

func TestZeroValuesWidenToZeroOpaque(t *testing.T) {
	assert.Equal(t, synctime.ZeroOpaque, synctime.FromClient(synctime.ZeroClient))
	assert.Equal(t, synctime.ZeroOpaque, synctime.FromServer(synctime.ZeroServer))
}

func TestStringersIdentifyTheOriginatingPeer(t *testing.T) {
	assert.Equal(t, "client@5", synctime.ClientTimestamp(5).String())
	assert.Equal(t, "server@5", synctime.ServerTimestamp(5).String())
}

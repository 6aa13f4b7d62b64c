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

package diag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/dbsync/internal/util/diag"
)

type healthyComponent struct{}

func (healthyComponent) Health(context.Context) error { return nil }

type unhealthyComponent struct{ reason string }

func (u unhealthyComponent) Health(context.Context) error { return errors.New(u.reason) }

func TestRegisterRejectsDuplicateName(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()

	require.NoError(t, d.Register("pool", healthyComponent{}))
	assert.Error(t, d.Register("pool", healthyComponent{}))
}

func TestHealthCheckReportsNonHealtherAsHealthy(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()

	require.NoError(t, d.Register("config", struct{ Name string }{"widgets"}))
	out, err := d.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"healthy":true`)
}

func TestHealthCheckSurfacesUnhealthyComponent(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()

	require.NoError(t, d.Register("pool", unhealthyComponent{reason: "connection refused"}))
	out, err := d.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, string(out), `"healthy":false`)
	assert.Contains(t, string(out), "connection refused")
}

func TestHealthCheckMixedComponentsReportsEachIndependently(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()

	require.NoError(t, d.Register("good", healthyComponent{}))
	require.NoError(t, d.Register("bad", unhealthyComponent{reason: "timeout"}))
	_, err := d.HealthCheck(context.Background())
	assert.Error(t, err)
}

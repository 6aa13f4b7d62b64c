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

package syncerr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := Cancelledf("stopped")
	se, ok := Is(err, Cancelled)
	require.True(t, ok)
	assert.Equal(t, Cancelled, se.Kind)

	_, ok = Is(err, Protocol)
	assert.False(t, ok)
}

func TestIsFalseForPlainError(t *testing.T) {
	_, ok := Is(errors.New("boom"), Unknown)
	assert.False(t, ok)
}

func TestIsCancelledAndIsProtocol(t *testing.T) {
	assert.True(t, IsCancelled(Cancelledf("canceled")))
	assert.False(t, IsCancelled(Protocolf("bad")))
	assert.True(t, IsProtocol(Protocolf("bad")))
	assert.True(t, IsConfiguration(Configurationf("bad config")))
}

func TestIsProviderReturnsStage(t *testing.T) {
	err := Providerf(EnsureSchema, errors.New("cause"), "ensure_schema failed")
	stage, ok := IsProvider(err)
	require.True(t, ok)
	assert.Equal(t, EnsureSchema, stage)
}

func TestErrorMessageIncludesStage(t *testing.T) {
	err := Providerf(ApplyingChanges, errors.New("conflict"), "apply failed")
	assert.Contains(t, err.Error(), "ApplyingChanges")
	assert.Contains(t, err.Error(), "Provider")

	noStage := New(Unknown, errors.New("cause"))
	assert.NotContains(t, noStage.Error(), "stage")
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Providerf(BeginSession, cause, "wrapped")
	assert.ErrorIs(t, err, cause)
}

func TestStageStrings(t *testing.T) {
	cases := map[Stage]string{
		None:              "None",
		BeginSession:      "BeginSession",
		EnsureScopes:      "EnsureScopes",
		EnsureSchema:      "EnsureSchema",
		EnsureDatabase:    "EnsureDatabase",
		SelectingChanges:  "SelectingChanges",
		ApplyingChanges:   "ApplyingChanges",
		WritingScopes:     "WritingScopes",
	}
	for stage, want := range cases {
		assert.Equal(t, want, stage.String())
	}
}

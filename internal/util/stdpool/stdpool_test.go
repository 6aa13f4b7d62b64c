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
	sqldriver "database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cockroachdb/dbsync/internal/util/diag"
)

func TestAttachOptionsCombinesEveryOption(t *testing.T) {
	diags, cleanup := diag.New(nil)
	defer cleanup()

	s := attachOptions([]Option{
		WithWaitForStartup(),
		WithMaxPoolSize(7),
		WithDiagnostics(diags, "primary"),
	})

	assert.True(t, s.WaitForStartup)
	assert.Equal(t, int32(7), s.maxConns)
	assert.Same(t, diags, s.diagnostics)
	assert.Equal(t, "primary", s.diagName)
}

func TestAttachOptionsWithNoOptionsIsZeroValue(t *testing.T) {
	s := attachOptions(nil)
	assert.False(t, s.WaitForStartup)
	assert.Zero(t, s.maxConns)
	assert.Nil(t, s.diagnostics)
}

func TestIsTransientStartupErrorOnlyMatchesBadConn(t *testing.T) {
	assert.True(t, isTransientStartupError(sqldriver.ErrBadConn))
	assert.False(t, isTransientStartupError(nil))
	assert.False(t, isTransientStartupError(sqldriver.ErrSkip))
}

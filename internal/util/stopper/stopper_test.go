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

package stopper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/dbsync/internal/util/stopper"
)

func TestStopClosesStoppingThenDone(t *testing.T) {
	ctx := stopper.WithContext(context.Background())

	released := make(chan struct{})
	ctx.Go(func() error {
		<-ctx.Stopping()
		close(released)
		return nil
	})

	select {
	case <-ctx.Done():
		t.Fatal("Done fired before Stop was called")
	default:
	}

	ctx.Stop()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Stopping never fired")
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never fired once the goroutine returned")
	}
}

func TestWaitReturnsFirstGoroutineError(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	boom := errors.New("boom")

	ctx.Go(func() error { return boom })
	ctx.Go(func() error {
		<-ctx.Stopping()
		return nil
	})

	assert.Equal(t, boom, ctx.Wait())
}

func TestStopIsIdempotent(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	require.NotPanics(t, func() {
		ctx.Stop()
		ctx.Stop()
	})
}

func TestGoErrorTriggersStop(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	ctx.Go(func() error { return errors.New("fail fast") })

	select {
	case <-ctx.Stopping():
	case <-time.After(time.Second):
		t.Fatal("a failing goroutine should request a stop")
	}
}

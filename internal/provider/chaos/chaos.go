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

// Package chaos wraps a Provider with randomized error injection, for
// exercising the orchestrator's error-handling and finalization paths
// in tests: a delegate-wrapping decorator keyed off a single
// probability, a shared doChaos helper wrapping a sentinel ErrChaos,
// and a constructor that returns the delegate unmodified when the
// probability is non-positive.
package chaos

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/scope"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/types"
)

// ErrChaos is the error injected by a chaos-wrapped Provider.
var ErrChaos = errors.New("chaos")

// doChaos is a convenient place to set a breakpoint.
func doChaos(method string) error {
	return errors.WithMessage(ErrChaos, method)
}

// chaosProvider is the unexported common decorator; WithChaosLocal and
// WithChaosRemote each embed it behind the marker method their role
// requires.
type chaosProvider struct {
	delegate provider.Provider
	prob     float32
}

func (c *chaosProvider) fail() bool { return rand.Float32() < c.prob }

func (c *chaosProvider) BeginSession(ctx context.Context, sc *synccontext.SyncContext, msg message.BeginSession) (*synccontext.SyncContext, config.Configuration, error) {
	if c.fail() {
		return sc, config.Configuration{}, doChaos("BeginSession")
	}
	return c.delegate.BeginSession(ctx, sc, msg)
}

func (c *chaosProvider) EndSession(ctx context.Context, sc *synccontext.SyncContext) (*synccontext.SyncContext, error) {
	if c.fail() {
		return sc, doChaos("EndSession")
	}
	return c.delegate.EndSession(ctx, sc)
}

func (c *chaosProvider) EnsureScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureScopes) (*synccontext.SyncContext, []scope.Info, error) {
	if c.fail() {
		return sc, nil, doChaos("EnsureScopes")
	}
	return c.delegate.EnsureScopes(ctx, sc, msg)
}

func (c *chaosProvider) EnsureSchema(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureSchema) (*synccontext.SyncContext, config.Schema, error) {
	if c.fail() {
		return sc, config.Schema{}, doChaos("EnsureSchema")
	}
	return c.delegate.EnsureSchema(ctx, sc, msg)
}

func (c *chaosProvider) EnsureDatabase(ctx context.Context, sc *synccontext.SyncContext, msg message.EnsureDatabase) (*synccontext.SyncContext, error) {
	if c.fail() {
		return sc, doChaos("EnsureDatabase")
	}
	return c.delegate.EnsureDatabase(ctx, sc, msg)
}

func (c *chaosProvider) GetLocalTimestamp(ctx context.Context, sc *synccontext.SyncContext, msg message.Timestamp) (*synccontext.SyncContext, int64, error) {
	if c.fail() {
		return sc, 0, doChaos("GetLocalTimestamp")
	}
	return c.delegate.GetLocalTimestamp(ctx, sc, msg)
}

func (c *chaosProvider) GetChangeBatch(ctx context.Context, sc *synccontext.SyncContext, msg message.GetChangesBatch) (*synccontext.SyncContext, types.BatchInfo, types.DatabaseChangesSelected, error) {
	if c.fail() {
		return sc, nil, types.DatabaseChangesSelected{}, doChaos("GetChangeBatch")
	}
	return c.delegate.GetChangeBatch(ctx, sc, msg)
}

func (c *chaosProvider) ApplyChanges(ctx context.Context, sc *synccontext.SyncContext, msg message.ApplyChanges) (*synccontext.SyncContext, types.DatabaseChangesApplied, error) {
	if c.fail() {
		return sc, types.DatabaseChangesApplied{}, doChaos("ApplyChanges")
	}
	return c.delegate.ApplyChanges(ctx, sc, msg)
}

func (c *chaosProvider) WriteScopes(ctx context.Context, sc *synccontext.SyncContext, msg message.WriteScopes) (*synccontext.SyncContext, error) {
	if c.fail() {
		return sc, doChaos("WriteScopes")
	}
	return c.delegate.WriteScopes(ctx, sc, msg)
}

func (c *chaosProvider) SetCancellation(token <-chan struct{})        { c.delegate.SetCancellation(token) }
func (c *chaosProvider) SetProgress(sink provider.ProgressSink)       { c.delegate.SetProgress(sink) }
func (c *chaosProvider) SetConfiguration(mutate provider.ConfigMutator) { c.delegate.SetConfiguration(mutate) }

// chaosLocal wraps a LocalProvider.
type chaosLocal struct {
	provider.BaseLocal
	*chaosProvider
}

var _ provider.LocalProvider = (*chaosLocal)(nil)

// WithChaosLocal returns a LocalProvider that injects ErrChaos into each
// call with independent probability prob. A non-positive prob returns
// delegate unwrapped.
func WithChaosLocal(delegate provider.LocalProvider, prob float32) provider.LocalProvider {
	if prob <= 0 {
		return delegate
	}
	return &chaosLocal{chaosProvider: &chaosProvider{delegate: delegate, prob: prob}}
}

// chaosRemote wraps a RemoteProvider.
type chaosRemote struct {
	provider.BaseRemote
	*chaosProvider
	delegate provider.RemoteProvider
}

var _ provider.RemoteProvider = (*chaosRemote)(nil)

// IsServer delegates without chaos: capability negotiation must stay
// deterministic or the orchestrator's preflight checks become flaky.
func (c *chaosRemote) IsServer() bool { return c.delegate.IsServer() }

// WithChaosRemote returns a RemoteProvider that injects ErrChaos into
// each call with independent probability prob. A non-positive prob
// returns delegate unwrapped.
func WithChaosRemote(delegate provider.RemoteProvider, prob float32) provider.RemoteProvider {
	if prob <= 0 {
		return delegate
	}
	return &chaosRemote{
		chaosProvider: &chaosProvider{delegate: delegate, prob: prob},
		delegate:      delegate,
	}
}

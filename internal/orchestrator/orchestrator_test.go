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

package orchestrator_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/dbsync/internal/config"
	"github.com/cockroachdb/dbsync/internal/message"
	"github.com/cockroachdb/dbsync/internal/orchestrator"
	"github.com/cockroachdb/dbsync/internal/provider"
	"github.com/cockroachdb/dbsync/internal/provider/chaos"
	"github.com/cockroachdb/dbsync/internal/synccontext"
	"github.com/cockroachdb/dbsync/internal/syncerr"
	"github.com/cockroachdb/dbsync/internal/testutil"
	"github.com/cockroachdb/dbsync/internal/types"
)

func TestFreshSessionSucceedsWithNoChanges(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)

	sc, err := fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
	assert.Equal(t, 0, sc.Counters.TotalChangesUploaded)
	assert.Equal(t, 0, sc.Counters.TotalChangesDownloaded)
	assert.Equal(t, 0, sc.Counters.TotalSyncConflicts)

	localScope, ok := fixture.Local.Scope("Widgets")
	require.True(t, ok)
	assert.False(t, localScope.IsNewScope)

	remoteScope, ok := fixture.Remote.Scope("Widgets")
	require.True(t, ok)
	assert.False(t, remoteScope.IsNewScope)
}

func TestUploadPropagatesLocalRowToRemote(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)

	fixture.Local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":1}`))

	sc, err := fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Counters.TotalChangesUploaded)

	got, ok := fixture.Remote.Row("widgets", []byte(`"1"`))
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(got))
}

func TestDownloadPropagatesRemoteRowToLocal(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)

	fixture.Remote.PutRow("widgets", []byte(`"7"`), []byte(`{"v":7}`))

	sc, err := fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Counters.TotalChangesDownloaded)

	got, ok := fixture.Local.Row("widgets", []byte(`"7"`))
	require.True(t, ok)
	assert.JSONEq(t, `{"v":7}`, string(got))
}

func TestRepeatedSessionOnlyUploadsNewChanges(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)

	fixture.Local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":1}`))
	_, err = fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)

	sc, err := fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
	assert.Equal(t, 0, sc.Counters.TotalChangesUploaded)
	assert.Equal(t, 0, sc.Counters.TotalChangesDownloaded)
}

func TestConflictingConcurrentWritesResolveToServerWins(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)

	// Establish a baseline so both scopes carry a nonzero last-sync
	// timestamp; a brand-new scope's Since bound is zero, which cannot
	// register a conflict (see internal/testutil's applyRowLocked).
	fixture.Local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":"baseline"}`))
	_, err = fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)

	// Independently modify the same key on both peers.
	fixture.Local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":"client-edit"}`))
	fixture.Remote.PutRow("widgets", []byte(`"1"`), []byte(`{"v":"server-edit"}`))

	sc, err := fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
	assert.Greater(t, sc.Counters.TotalSyncConflicts, 0)

	localRow, ok := fixture.Local.Row("widgets", []byte(`"1"`))
	require.True(t, ok)
	remoteRow, ok := fixture.Remote.Row("widgets", []byte(`"1"`))
	require.True(t, ok)

	// The default ConflictPolicy is ServerWins: the server's own edit
	// prevails on the remote apply (rejecting the client's upload) and
	// is then carried back down to overwrite the client's local edit.
	assert.JSONEq(t, `{"v":"server-edit"}`, string(remoteRow))
	assert.JSONEq(t, `{"v":"server-edit"}`, string(localRow))
}

func TestConflictingConcurrentWritesResolveToClientWinsWhenConfigured(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)
	fixture.Remote.SetConfiguration(func(cfg *config.Configuration) {
		cfg.ConflictPolicy = types.ClientWins
	})

	// Establish a baseline so both scopes carry a nonzero last-sync
	// timestamp; a brand-new scope's Since bound is zero, which cannot
	// register a conflict.
	fixture.Local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":"baseline"}`))
	_, err = fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)

	// Independently modify the same key on both peers.
	fixture.Local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":"client-edit"}`))
	fixture.Remote.PutRow("widgets", []byte(`"1"`), []byte(`{"v":"server-edit"}`))

	sc, err := fixture.Orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
	assert.Greater(t, sc.Counters.TotalSyncConflicts, 0)

	localRow, ok := fixture.Local.Row("widgets", []byte(`"1"`))
	require.True(t, ok)
	remoteRow, ok := fixture.Remote.Row("widgets", []byte(`"1"`))
	require.True(t, ok)

	// With ConflictPolicy configured as ClientWins, the client's own edit
	// prevails on the remote apply and is then carried back down, so both
	// peers converge on the client's edit rather than the server's.
	assert.JSONEq(t, `{"v":"client-edit"}`, string(remoteRow))
	assert.JSONEq(t, `{"v":"client-edit"}`, string(localRow))
}

func TestProviderFailureDuringApplyStillFinalizesSession(t *testing.T) {
	local := testutil.NewLocal()
	remote := testutil.NewRemote()

	// Only the apply_changes call is subject to chaos: every earlier
	// phase runs against the real remote so the session actually reaches
	// apply_changes before the injected failure is observed.
	applyAlwaysFails := chaos.WithChaosRemote(remote, 1)
	wrapped := &applyOnlyChaosRemote{RemoteProvider: remote, chaosed: applyAlwaysFails}

	orch, err := orchestrator.New(local, wrapped, "Widgets", []string{"widgets"}, nil)
	require.NoError(t, err)

	local.PutRow("widgets", []byte(`"1"`), []byte(`{"v":1}`))

	_, err = orch.Synchronize(context.Background(), synccontext.Normal)
	require.Error(t, err)
	assert.ErrorIs(t, err, chaos.ErrChaos)

	stage, ok := syncerr.IsProvider(err)
	require.True(t, ok)
	assert.Equal(t, syncerr.ApplyingChanges, stage)

	// Finalization (step 16, end_session on both peers) still runs, and
	// the orchestrator returns to Ready, despite the mid-session failure.
	assert.Equal(t, orchestrator.Ready, orch.State())
}

// applyOnlyChaosRemote wraps a RemoteProvider so that only its
// ApplyChanges call is routed through a chaos-wrapped delegate; every
// other call goes directly to the real provider.
type applyOnlyChaosRemote struct {
	provider.RemoteProvider
	chaosed provider.RemoteProvider
}

func (r *applyOnlyChaosRemote) ApplyChanges(ctx context.Context, sc *synccontext.SyncContext, msg message.ApplyChanges) (*synccontext.SyncContext, types.DatabaseChangesApplied, error) {
	return r.chaosed.ApplyChanges(ctx, sc, msg)
}

func TestObserverSeesExactlyTwoTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []orchestrator.SessionState
	observer := orchestrator.ObserverFunc(func(s orchestrator.SessionState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	local := testutil.NewLocal()
	remote := testutil.NewRemote()
	orch, err := orchestrator.New(local, remote, "Widgets", []string{"widgets"}, observer)
	require.NoError(t, err)

	_, err = orch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 2)
	assert.Equal(t, orchestrator.Synchronizing, states[0])
	assert.Equal(t, orchestrator.Ready, states[1])
	assert.Equal(t, orchestrator.Ready, orch.State())
}

func TestCancelledContextAbortsSession(t *testing.T) {
	fixture, err := testutil.NewFixture("Widgets", []string{"widgets"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = fixture.Orch.Synchronize(ctx, synccontext.Normal)
	require.Error(t, err)
}

func TestConcurrentSynchronizeCallsAreRejected(t *testing.T) {
	remote := testutil.NewRemote()
	blockedLocal := &blockingLocalProvider{
		LocalProvider: testutil.NewLocal(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	blockedOrch, err := orchestrator.New(blockedLocal, remote, "Widgets", []string{"widgets"}, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		close(started)
		_, e := blockedOrch.Synchronize(context.Background(), synccontext.Normal)
		errCh <- e
	}()

	<-started
	<-blockedLocal.entered
	// The first session is now blocked inside begin_session; a second,
	// concurrent call against the same orchestrator must be rejected.
	_, err = blockedOrch.Synchronize(context.Background(), synccontext.Normal)
	assert.Error(t, err)

	close(blockedLocal.release)
	require.NoError(t, <-errCh)

	// Once the first session completes, the orchestrator accepts a new
	// one sequentially.
	_, err = blockedOrch.Synchronize(context.Background(), synccontext.Normal)
	require.NoError(t, err)
}

// blockingLocalProvider wraps a LocalProvider, stalling BeginSession
// until release is closed, so a test can reliably observe a second
// Synchronize call overlapping the first.
type blockingLocalProvider struct {
	provider.LocalProvider
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLocalProvider) BeginSession(ctx context.Context, sc *synccontext.SyncContext, msg message.BeginSession) (*synccontext.SyncContext, config.Configuration, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.LocalProvider.BeginSession(ctx, sc, msg)
}

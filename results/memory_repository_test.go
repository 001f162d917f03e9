package results

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t)

	snap, err := repo.Snapshot(ctx, testCompetition)
	require.NoError(t, err)

	batch := PublicationBatch{ID: "b1", Competition: testCompetition, Kind: BatchPublish, BaseVersion: snap.Version - 1}
	err = repo.ApplyBatch(ctx, batch, []Change{{RegistrationID: "R-001", Action: ActionInsert, After: &Result{RegistrationID: "R-001"}}})
	require.ErrorIs(t, err, ErrTransactionConflict)

	_, err = repo.Changes(ctx, "b1")
	assert.Error(t, err)
}

func TestMemoryRepositorySnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t)

	snap, err := repo.Snapshot(ctx, testCompetition)
	require.NoError(t, err)

	err = repo.ApplyBatch(ctx, PublicationBatch{ID: "b1", Competition: testCompetition, Kind: BatchPublish, BaseVersion: snap.Version},
		[]Change{{RegistrationID: "R-001", Action: ActionInsert, After: &Result{RegistrationID: "R-001", Score: dec("1")}}})
	require.NoError(t, err)

	assert.NotContains(t, snap.Results, "R-001")
	assert.Contains(t, storedResults(t, repo), "R-001")

	changes, err := repo.Changes(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionInsert, changes[0].Action)
}

func TestMemoryRepositorySnapshotDuringCommit(t *testing.T) {
	ctx := context.Background()
	var armed atomic.Bool
	staging := make(chan struct{})
	release := make(chan struct{})
	repo := seededRepo(t, WithStageHook(func(int) error {
		if armed.CompareAndSwap(true, false) {
			close(staging)
			<-release
		}
		return nil
	}))

	before, err := repo.Snapshot(ctx, testCompetition)
	require.NoError(t, err)

	armed.Store(true)
	done := make(chan error, 1)
	go func() {
		done <- repo.ApplyBatch(ctx, PublicationBatch{ID: "b1", Competition: testCompetition, Kind: BatchPublish, BaseVersion: before.Version},
			[]Change{{RegistrationID: "R-001", Action: ActionInsert, After: &Result{RegistrationID: "R-001", Score: dec("1")}}})
	}()
	<-staging

	snapped := make(chan *Snapshot, 1)
	go func() {
		snap, _ := repo.Snapshot(ctx, testCompetition)
		snapped <- snap
	}()
	var snap *Snapshot
	select {
	case snap = <-snapped:
	case <-time.After(2 * time.Second):
		t.Error("snapshot blocked by a commit in progress")
	}

	close(release)
	require.NoError(t, <-done)
	if snap == nil {
		snap = <-snapped
	}
	assert.Equal(t, before.Version, snap.Version)
	assert.NotContains(t, snap.Results, "R-001")
	assert.Contains(t, storedResults(t, repo), "R-001")
}

func TestMemoryRepositoryConcurrentCommitsConflict(t *testing.T) {
	ctx := context.Background()
	var armed atomic.Bool
	staging := make(chan struct{})
	release := make(chan struct{})
	repo := seededRepo(t, WithStageHook(func(int) error {
		if armed.CompareAndSwap(true, false) {
			close(staging)
			<-release
		}
		return nil
	}))
	snap, err := repo.Snapshot(ctx, testCompetition)
	require.NoError(t, err)

	armed.Store(true)
	done := make(chan error, 1)
	go func() {
		done <- repo.ApplyBatch(ctx, PublicationBatch{ID: "slow", Competition: testCompetition, Kind: BatchPublish, BaseVersion: snap.Version},
			[]Change{{RegistrationID: "R-001", Action: ActionInsert, After: &Result{RegistrationID: "R-001"}}})
	}()
	<-staging

	require.NoError(t, repo.ApplyBatch(ctx, PublicationBatch{ID: "fast", Competition: testCompetition, Kind: BatchPublish, BaseVersion: snap.Version},
		[]Change{{RegistrationID: "R-002", Action: ActionInsert, After: &Result{RegistrationID: "R-002"}}}))

	close(release)
	assert.ErrorIs(t, <-done, ErrTransactionConflict)

	stored := storedResults(t, repo)
	assert.Contains(t, stored, "R-002")
	assert.NotContains(t, stored, "R-001")
}

func TestMemoryRepositoryHistoryIsACopy(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t)

	history, err := repo.History(ctx, testCompetition)
	require.NoError(t, err)
	require.Len(t, history, 1)
	history[0].ID = "tampered"

	again, err := repo.History(ctx, testCompetition)
	require.NoError(t, err)
	assert.Equal(t, "seed", again[0].ID)
}

func TestSnapshotLookups(t *testing.T) {
	snap := NewSnapshot("c", 3, testRoster, nil, []string{"b1"})

	reg, ok := snap.RegistrationByEmail("  CARO@example.org ")
	require.True(t, ok)
	assert.Equal(t, "R-003", reg.ID)

	_, ok = snap.RegistrationByID("R-404")
	assert.False(t, ok)
	assert.True(t, snap.Reversed["b1"])
}

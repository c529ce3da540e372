package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnTracker_Lifecycle(t *testing.T) {
	tracker := NewTurnTracker(10)
	turn := tracker.Start(1, 0)
	require.Len(t, turn.ID, 8)
	assert.Same(t, turn, tracker.Get(turn.ID))

	tracker.SetDialog(turn, 42)
	tracker.Advance(turn, TurnAgentInvoked)
	tracker.SetStatus(turn, "Searching literature")
	tracker.Advance(turn, TurnFailed)
	tracker.Advance(turn, TurnPersisted)
	tracker.Finish(turn, errors.New("boom"))

	snap := turn.Snapshot()
	assert.Equal(t, int64(42), snap.DialogID)
	assert.Equal(t, TurnPersisted, snap.State)
	assert.Equal(t, TurnFailed, snap.Outcome)
	assert.Equal(t, "Searching literature", snap.Status)
	assert.Equal(t, "boom", snap.Error)
	assert.NotNil(t, snap.CompletedAt)
	assert.True(t, turn.Done())
}

func TestTurnTracker_ListMostRecentFirst(t *testing.T) {
	tracker := NewTurnTracker(10)
	first := tracker.Start(1, 1)
	first.StartedAt = time.Now().Add(-time.Minute)
	second := tracker.Start(1, 2)

	list := tracker.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestTurnTracker_EvictsFinishedTurns(t *testing.T) {
	tracker := NewTurnTracker(2)

	running := tracker.Start(1, 1)
	running.StartedAt = time.Now().Add(-time.Hour)

	old := tracker.Start(1, 2)
	old.StartedAt = time.Now().Add(-time.Minute)
	tracker.Finish(old, nil)

	tracker.Start(1, 3)

	assert.Nil(t, tracker.Get(old.ID), "oldest finished turn is evicted")
	assert.NotNil(t, tracker.Get(running.ID), "running turns are never evicted")
	assert.Len(t, tracker.List(), 2)
}

package service

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnState is the position of a turn in the conversation workflow.
type TurnState string

const (
	TurnIdle           TurnState = "idle"
	TurnDialogResolved TurnState = "dialog_resolved"
	TurnContextBuilt   TurnState = "context_built"
	TurnAgentInvoked   TurnState = "agent_invoked"
	TurnSucceeded      TurnState = "succeeded"
	TurnFailed         TurnState = "failed"
	TurnPersisted      TurnState = "persisted"
)

// Turn records the progress of one conversation turn.
type Turn struct {
	ID          string
	UserID      int64
	DialogID    int64
	State       TurnState
	Outcome     TurnState // TurnSucceeded or TurnFailed once the agent returned
	Status      string    // latest progress label
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// Snapshot returns a thread-safe copy of turn state.
func (t *Turn) Snapshot() Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Turn{
		ID:          t.ID,
		UserID:      t.UserID,
		DialogID:    t.DialogID,
		State:       t.State,
		Outcome:     t.Outcome,
		Status:      t.Status,
		Error:       t.Error,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// Done reports whether the turn reached a terminal state.
func (t *Turn) Done() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.CompletedAt != nil
}

// TurnTracker keeps the most recent turns in memory.
type TurnTracker struct {
	turns map[string]*Turn
	limit int
	mu    sync.RWMutex
}

// NewTurnTracker creates a tracker retaining at most limit finished turns.
func NewTurnTracker(limit int) *TurnTracker {
	if limit <= 0 {
		limit = 200
	}
	return &TurnTracker{
		turns: make(map[string]*Turn),
		limit: limit,
	}
}

// Start registers a new turn in the idle state.
func (m *TurnTracker) Start(userID, dialogID int64) *Turn {
	turn := &Turn{
		ID:        uuid.New().String()[:8],
		UserID:    userID,
		DialogID:  dialogID,
		State:     TurnIdle,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.turns[turn.ID] = turn
	m.evictLocked()
	m.mu.Unlock()

	slog.Debug("turn started", "turn_id", turn.ID, "dialog_id", dialogID)
	return turn
}

// Get retrieves a turn by ID.
func (m *TurnTracker) Get(id string) *Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turns[id]
}

// List returns all tracked turns, most recent first.
func (m *TurnTracker) List() []*Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := make([]*Turn, 0, len(m.turns))
	for _, t := range m.turns {
		turns = append(turns, t)
	}
	slices.SortFunc(turns, func(a, b *Turn) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return turns
}

// Advance moves the turn to state.
func (m *TurnTracker) Advance(t *Turn, state TurnState) {
	t.mu.Lock()
	t.State = state
	if state == TurnSucceeded || state == TurnFailed {
		t.Outcome = state
	}
	t.mu.Unlock()
}

// SetDialog records the dialog once it is resolved.
func (m *TurnTracker) SetDialog(t *Turn, dialogID int64) {
	t.mu.Lock()
	t.DialogID = dialogID
	t.mu.Unlock()
}

// SetStatus records the latest progress label.
func (m *TurnTracker) SetStatus(t *Turn, status string) {
	t.mu.Lock()
	t.Status = status
	t.mu.Unlock()
}

// Finish marks the turn as completed. A non-nil err is kept as its error message.
func (m *TurnTracker) Finish(t *Turn, err error) {
	now := time.Now()
	t.mu.Lock()
	if err != nil {
		t.Error = err.Error()
	}
	t.CompletedAt = &now
	t.mu.Unlock()
}

// evictLocked drops the oldest finished turns beyond the limit.
func (m *TurnTracker) evictLocked() {
	if len(m.turns) <= m.limit {
		return
	}
	finished := make([]*Turn, 0, len(m.turns))
	for _, t := range m.turns {
		if t.Done() {
			finished = append(finished, t)
		}
	}
	slices.SortFunc(finished, func(a, b *Turn) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	for _, t := range finished {
		if len(m.turns) <= m.limit {
			return
		}
		delete(m.turns, t.ID)
	}
}

package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store/memory"
)

type agentFunc func(ctx context.Context, req AgentRequest) (string, error)

func (f agentFunc) Invoke(ctx context.Context, req AgentRequest) (string, error) {
	return f(ctx, req)
}

type titleFunc func(ctx context.Context, msg string) (string, error)

func (f titleFunc) GenerateTitle(ctx context.Context, msg string) (string, error) {
	return f(ctx, msg)
}

func staticAgent(reply string) agentFunc {
	return func(context.Context, AgentRequest) (string, error) { return reply, nil }
}

func staticTitle(title string) titleFunc {
	return func(context.Context, string) (string, error) { return title, nil }
}

func newTestConversation(agent Agent, titles TitleGenerator) (*ConversationService, *memory.Store) {
	st := memory.New()
	svc := NewConversationService(st, agent, titles, nil, metrics.NewCollector(), nil, ConversationOptions{
		AgentTimeout: time.Second,
	})
	return svc, st
}

func TestTurn_NewDialog(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestConversation(
		staticAgent("Metformin is a first-line type 2 diabetes drug."),
		staticTitle("Metformin Overview"),
	)

	var statuses []string
	res, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "What is metformin?", Status: func(s string) {
		statuses = append(statuses, s)
	}})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, []string{StatusWorking}, statuses)

	stored, err := st.Dialogs().GetByID(ctx, res.Dialog.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ChatMessage{
		models.UserMessage("What is metformin?"),
		models.AssistantMessage("Metformin is a first-line type 2 diabetes drug."),
	}, stored.ChatHistory)
	assert.Equal(t, "Metformin Overview", stored.Title)
	assert.NotEqual(t, models.DefaultDialogTitle, stored.Title)
	assert.NotNil(t, stored.UpdatedAt)

	turn := svc.Tracker().Get(res.TurnID)
	require.NotNil(t, turn)
	snap := turn.Snapshot()
	assert.Equal(t, TurnPersisted, snap.State)
	assert.Equal(t, TurnSucceeded, snap.Outcome)
	assert.Equal(t, res.Dialog.ID, snap.DialogID)
}

func TestTurn_GrowsHistoryByTwo(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestConversation(staticAgent("reply"), staticTitle("Some Title"))

	first, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "first"})
	require.NoError(t, err)
	before := append([]models.ChatMessage(nil), first.Dialog.ChatHistory...)

	second, err := svc.Turn(ctx, TurnRequest{UserID: 1, DialogID: first.Dialog.ID, Message: "second"})
	require.NoError(t, err)

	stored, err := st.Dialogs().GetByID(ctx, second.Dialog.ID)
	require.NoError(t, err)
	require.Len(t, stored.ChatHistory, len(before)+2)
	assert.Equal(t, before, stored.ChatHistory[:len(before)])
	assert.Equal(t, models.UserMessage("second"), stored.ChatHistory[2])
}

func TestTurn_AgentFailure(t *testing.T) {
	ctx := context.Background()
	titleCalled := false
	svc, st := newTestConversation(
		agentFunc(func(context.Context, AgentRequest) (string, error) {
			return "", errors.New("provider exploded")
		}),
		titleFunc(func(context.Context, string) (string, error) {
			titleCalled = true
			return "Never Used", nil
		}),
	)

	res, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "What is metformin?"})
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.False(t, titleCalled)

	stored, err := st.Dialogs().GetByID(ctx, res.Dialog.ID)
	require.NoError(t, err)
	require.Len(t, stored.ChatHistory, 2)
	assert.Contains(t, stored.ChatHistory[1].Content, "#"+strconv.FormatInt(res.Dialog.ID, 10))
	assert.Equal(t, FailureReply(res.Dialog.ID), stored.ChatHistory[1].Content)
	assert.Equal(t, models.DefaultDialogTitle, stored.Title)
	assert.Equal(t, TurnFailed, svc.Tracker().Get(res.TurnID).Snapshot().Outcome)
}

func TestTurn_AgentPanicBecomesFailureReply(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestConversation(agentFunc(func(context.Context, AgentRequest) (string, error) {
		var seen map[string]bool
		seen["metformin"] = true
		return "unreachable", nil
	}), staticTitle("Never Used"))

	var res *TurnResult
	var err error
	require.NotPanics(t, func() {
		res, err = svc.Turn(ctx, TurnRequest{UserID: 1, Message: "What is metformin?"})
	})
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, FailureReply(res.Dialog.ID), res.Reply)

	stored, err := st.Dialogs().GetByID(ctx, res.Dialog.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ChatMessage{
		models.UserMessage("What is metformin?"),
		models.AssistantMessage(FailureReply(res.Dialog.ID)),
	}, stored.ChatHistory)
	assert.Equal(t, models.DefaultDialogTitle, stored.Title)

	turn := svc.Tracker().Get(res.TurnID)
	require.NotNil(t, turn)
	assert.True(t, turn.Done())
	snap := turn.Snapshot()
	assert.Equal(t, TurnPersisted, snap.State)
	assert.Equal(t, TurnFailed, snap.Outcome)
}

func TestTurn_EmptyReplyAndTimeoutFail(t *testing.T) {
	tests := []struct {
		name  string
		agent agentFunc
	}{
		{"blank reply", staticAgent("   ")},
		{"timeout", func(ctx context.Context, _ AgentRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			svc := NewConversationService(st, tt.agent, staticTitle("T"), nil, nil, nil, ConversationOptions{
				AgentTimeout: 20 * time.Millisecond,
			})
			res, err := svc.Turn(context.Background(), TurnRequest{UserID: 1, Message: "hello"})
			require.NoError(t, err)
			assert.False(t, res.Succeeded)
			assert.Equal(t, FailureReply(res.Dialog.ID), res.Reply)
		})
	}
}

func TestTurn_TitleFailureKeepsSentinel(t *testing.T) {
	tests := []struct {
		name   string
		titles TitleGenerator
		want   string
	}{
		{"error", titleFunc(func(context.Context, string) (string, error) { return "", errors.New("down") }), models.DefaultDialogTitle},
		{"blank", staticTitle("  "), models.DefaultDialogTitle},
		{"nil generator", nil, models.DefaultDialogTitle},
		{"clamped", staticTitle("One Two Three Four Five Six Seven"), "One Two Three Four Five"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestConversation(staticAgent("ok"), tt.titles)
			res, err := svc.Turn(context.Background(), TurnRequest{UserID: 1, Message: "hello"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Dialog.Title)
		})
	}
}

func TestTurn_TitleOnlyOnFirstSuccess(t *testing.T) {
	ctx := context.Background()
	calls := 0
	svc, _ := newTestConversation(staticAgent("ok"), titleFunc(func(context.Context, string) (string, error) {
		calls++
		return "Title " + strconv.Itoa(calls), nil
	}))

	res, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "first"})
	require.NoError(t, err)
	res, err = svc.Turn(ctx, TurnRequest{UserID: 1, DialogID: res.Dialog.ID, Message: "second"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "Title 1", res.Dialog.Title)
}

func TestTurn_ContextBlockPrecedesUserMessage(t *testing.T) {
	ctx := context.Background()
	var got []models.ChatMessage
	svc, st := newTestConversation(agentFunc(func(_ context.Context, req AgentRequest) (string, error) {
		got = req.Messages
		return "ok", nil
	}), staticTitle("T"))

	d, err := st.Dialogs().Create(ctx, 1, []models.ChatMessage{
		models.UserMessage("earlier"), models.AssistantMessage("answer"),
	}, "")
	require.NoError(t, err)
	_, err = st.Findings().Create(ctx, models.NewFinding{DialogID: d.ID, Title: "Study A"})
	require.NoError(t, err)
	b, err := st.Findings().Create(ctx, models.NewFinding{DialogID: d.ID, Title: "Study B", RelevanceReason: "sample size too small"})
	require.NoError(t, err)
	require.NoError(t, st.Findings().MarkNonRelevant(ctx, b.ID))

	_, err = svc.Turn(ctx, TurnRequest{UserID: 1, DialogID: d.ID, Message: "more please"})
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, models.UserMessage("earlier"), got[0])
	assert.Equal(t, models.RoleSystem, got[2].Role)
	assert.Equal(t, models.UserMessage("more please"), got[3])

	block := got[2].Content
	_, existing, ok := strings.Cut(block, ExistingHeader)
	require.True(t, ok)
	assert.Contains(t, existing, "Study A")
	assert.NotContains(t, existing, "Study B")
	assert.Equal(t, 1, strings.Count(block, "sample size too small"))
}

func TestTurn_AgentCanSaveFindings(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestConversation(agentFunc(func(ctx context.Context, req AgentRequest) (string, error) {
		_, err := req.Findings.Create(ctx, models.NewFinding{DialogID: req.DialogID, Title: "Saved by tool"})
		return "done", err
	}), staticTitle("T"))

	res, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "find things"})
	require.NoError(t, err)

	findings, err := st.Findings().ListByDialog(ctx, res.Dialog.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Saved by tool", findings[0].Title)
}

func TestTurn_CallerErrors(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestConversation(staticAgent("ok"), nil)
	foreign, err := st.Dialogs().Create(ctx, 2, nil, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  TurnRequest
		want error
	}{
		{"blank message", TurnRequest{UserID: 1, Message: "  \n"}, ErrEmptyMessage},
		{"too long", TurnRequest{UserID: 1, Message: strings.Repeat("x", MaxMessageChars+1)}, ErrMessageTooLong},
		{"unknown dialog", TurnRequest{UserID: 1, DialogID: 999, Message: "hi"}, ErrDialogNotFound},
		{"foreign dialog", TurnRequest{UserID: 1, DialogID: foreign.ID, Message: "hi"}, ErrDialogNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Turn(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stored, err := st.Dialogs().GetByID(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ChatHistory)
}

func TestTurn_CancelledBeforeLockLeavesNoDialog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agentCalled := false
	svc, st := newTestConversation(agentFunc(func(context.Context, AgentRequest) (string, error) {
		agentCalled = true
		return "ok", nil
	}), nil)

	_, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "hi"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, agentCalled)

	dialogs, err := st.Dialogs().ListByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, dialogs)
}

func TestTurn_MessageAtLimitAccepted(t *testing.T) {
	svc, _ := newTestConversation(staticAgent("ok"), nil)
	_, err := svc.Turn(context.Background(), TurnRequest{UserID: 1, Message: strings.Repeat("é", MaxMessageChars)})
	assert.NoError(t, err)
}

func TestTurn_CancelledCallerStillPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, st := newTestConversation(agentFunc(func(context.Context, AgentRequest) (string, error) {
		cancel()
		return "answer", nil
	}), staticTitle("Kept"))

	res, err := svc.Turn(ctx, TurnRequest{UserID: 1, Message: "hi"})
	require.NoError(t, err)

	stored, err := st.Dialogs().GetByID(context.Background(), res.Dialog.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatHistory, 2)
	assert.Equal(t, "Kept", stored.Title)
}

func TestTurn_SerializesPerDialog(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	active, peak := 0, 0
	svc, st := newTestConversation(agentFunc(func(context.Context, AgentRequest) (string, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	}), staticTitle("T"))

	d, err := st.Dialogs().Create(ctx, 1, nil, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Turn(ctx, TurnRequest{UserID: 1, DialogID: d.ID, Message: "q"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
	stored, err := st.Dialogs().GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatHistory, 16)
	assert.Zero(t, svc.locks.size())
}

func TestTurn_RecordsMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	svc := NewConversationService(memory.New(), staticAgent("ok"), staticTitle("T"), nil, collector, nil, ConversationOptions{})

	_, err := svc.Turn(context.Background(), TurnRequest{UserID: 1, Message: "hi"})
	require.NoError(t, err)

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.TurnsSucceeded)
	require.NotNil(t, snap.Turn)
	require.NotNil(t, snap.AgentInvoke)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

// MaxMessageChars bounds the length of a single user message.
const MaxMessageChars = 1500

// StatusWorking is reported once the agent starts working on a turn.
const StatusWorking = "Researching & verifying..."

// titleMaxWords clamps generated dialog titles.
const titleMaxWords = 5

var (
	ErrDialogNotFound  = errors.New("dialog not found")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = fmt.Errorf("message exceeds %d characters", MaxMessageChars)
	errEmptyAgentReply = errors.New("agent returned an empty reply")
	errAgentPanic      = errors.New("agent panicked")
)

// StatusFunc receives progress labels while a turn runs.
type StatusFunc func(status string)

// AgentRequest is the input of one agent invocation.
type AgentRequest struct {
	DialogID int64
	UserID   int64
	Messages []models.ChatMessage
	// Findings lets tools persist findings for DialogID while the agent runs.
	Findings store.Findings
	Status   StatusFunc
}

// Agent produces the assistant reply for a message list.
type Agent interface {
	Invoke(ctx context.Context, req AgentRequest) (string, error)
}

// TitleGenerator summarizes the first user message into a short title.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, firstUserMessage string) (string, error)
}

// TurnRequest is one user message. DialogID 0 starts a new dialog.
type TurnRequest struct {
	UserID   int64
	DialogID int64
	Message  string
	Status   StatusFunc
}

// TurnResult is returned after the turn was persisted.
type TurnResult struct {
	TurnID    string
	Dialog    *models.Dialog
	Reply     string
	Succeeded bool
}

// ConversationOptions tunes the conversation driver.
type ConversationOptions struct {
	AgentTimeout time.Duration
	Compaction   CompactionPolicy
}

// ConversationService runs conversation turns against the research agent.
type ConversationService struct {
	store     store.Store
	agent     Agent
	titles    TitleGenerator
	tracker   *TurnTracker
	collector *metrics.Collector
	logger    *slog.Logger
	opts      ConversationOptions
	locks     *dialogLocks
}

// NewConversationService creates a new conversation service.
// tracker, collector and logger may be nil.
func NewConversationService(st store.Store, agent Agent, titles TitleGenerator, tracker *TurnTracker, collector *metrics.Collector, logger *slog.Logger, opts ConversationOptions) *ConversationService {
	if tracker == nil {
		tracker = NewTurnTracker(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 3 * time.Minute
	}
	return &ConversationService{
		store:     st,
		agent:     agent,
		titles:    titles,
		tracker:   tracker,
		collector: collector,
		logger:    logger,
		opts:      opts,
		locks:     newDialogLocks(),
	}
}

// Tracker returns the turn tracker.
func (s *ConversationService) Tracker() *TurnTracker {
	return s.tracker
}

// FailureReply is the assistant reply recorded when the agent could not answer.
func FailureReply(dialogID int64) string {
	return fmt.Sprintf("Sorry, the research assistant could not complete this request. Please contact support and mention dialog #%d.", dialogID)
}

// ValidateMessage rejects blank and oversized messages.
func ValidateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(msg) > MaxMessageChars {
		return ErrMessageTooLong
	}
	return nil
}

// Turn runs one user message through the agent and persists both sides of the
// exchange. Agent failures are absorbed into a failure reply; only caller
// errors and persistence errors are returned.
func (s *ConversationService) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := ValidateMessage(req.Message); err != nil {
		return nil, err
	}

	start := time.Now()
	turn := s.tracker.Start(req.UserID, req.DialogID)
	result, err := s.runTurn(ctx, turn, req)
	s.tracker.Finish(turn, err)
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpTurn, time.Since(start))
		if err == nil {
			s.collector.RecordTurnOutcome(result.Succeeded)
		}
	}
	return result, err
}

func (s *ConversationService) runTurn(ctx context.Context, turn *Turn, req TurnRequest) (*TurnResult, error) {
	dialog, unlock, err := s.resolveDialog(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()
	s.tracker.SetDialog(turn, dialog.ID)
	s.tracker.Advance(turn, TurnDialogResolved)

	log := s.logger.With("turn_id", turn.ID, "dialog_id", dialog.ID, "user_id", req.UserID)

	status := func(label string) {
		s.tracker.SetStatus(turn, label)
		if req.Status != nil {
			req.Status(label)
		}
	}

	reply, agentErr := s.research(ctx, turn, dialog, req.Message, status, log)

	succeeded := agentErr == nil
	if succeeded {
		s.tracker.Advance(turn, TurnSucceeded)
	} else {
		s.tracker.Advance(turn, TurnFailed)
		log.Error("research turn failed", "error", agentErr)
		reply = FailureReply(dialog.ID)
	}

	// The exchange is stored even when the caller went away mid-turn.
	persistCtx := context.WithoutCancel(ctx)

	dialog.Append(models.UserMessage(req.Message), models.AssistantMessage(reply))
	if succeeded && dialog.HasDefaultTitle() {
		if title := s.generateTitle(persistCtx, req.Message, log); title != "" {
			dialog.Title = title
		}
	}

	saveStart := time.Now()
	err = s.store.Dialogs().Save(persistCtx, dialog)
	s.recordStore(saveStart)
	if err != nil {
		log.Error("failed to persist turn", "error", err)
		return nil, fmt.Errorf("save dialog %d: %w", dialog.ID, err)
	}
	s.tracker.Advance(turn, TurnPersisted)
	log.Info("turn persisted", "succeeded", succeeded, "messages", len(dialog.ChatHistory))

	return &TurnResult{
		TurnID:    turn.ID,
		Dialog:    dialog,
		Reply:     reply,
		Succeeded: succeeded,
	}, nil
}

// resolveDialog loads or creates the dialog and takes its lock.
func (s *ConversationService) resolveDialog(ctx context.Context, req TurnRequest) (*models.Dialog, func(), error) {
	if req.DialogID == 0 {
		dialog, err := s.store.Dialogs().Create(ctx, req.UserID, nil, models.DefaultDialogTitle)
		if err != nil {
			return nil, nil, fmt.Errorf("create dialog: %w", err)
		}
		unlock, err := s.locks.Lock(ctx, dialog.ID)
		if err != nil {
			if delErr := s.store.Dialogs().Delete(context.WithoutCancel(ctx), dialog.ID); delErr != nil {
				s.logger.Warn("failed to remove unused dialog", "dialog_id", dialog.ID, "error", delErr)
			}
			return nil, nil, err
		}
		return dialog, unlock, nil
	}

	unlock, err := s.locks.Lock(ctx, req.DialogID)
	if err != nil {
		return nil, nil, err
	}
	dialog, err := s.store.Dialogs().GetByID(ctx, req.DialogID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("get dialog %d: %w", req.DialogID, err)
	}
	if dialog == nil || dialog.UserID != req.UserID {
		unlock()
		return nil, nil, ErrDialogNotFound
	}
	return dialog, unlock, nil
}

// research builds the outgoing message list and invokes the agent.
func (s *ConversationService) research(ctx context.Context, turn *Turn, dialog *models.Dialog, message string, status StatusFunc, log *slog.Logger) (string, error) {
	listStart := time.Now()
	findings, err := s.store.Findings().ListByDialog(ctx, dialog.ID)
	s.recordStore(listStart)
	if err != nil {
		return "", fmt.Errorf("list findings: %w", err)
	}
	history := Compact(dialog.ChatHistory, s.opts.Compaction)
	messages := BuildMessages(history, AssembleContext(findings), message)
	s.tracker.Advance(turn, TurnContextBuilt)

	log.Debug("invoking agent", "messages", len(messages), "findings", len(findings))
	status(StatusWorking)
	s.tracker.Advance(turn, TurnAgentInvoked)

	agentCtx, cancel := context.WithTimeout(ctx, s.opts.AgentTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.invokeAgent(agentCtx, AgentRequest{
		DialogID: dialog.ID,
		UserID:   dialog.UserID,
		Messages: messages,
		Findings: s.store.Findings(),
		Status:   status,
	})
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpAgentInvoke, time.Since(start))
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errEmptyAgentReply
	}
	return reply, nil
}

// invokeAgent converts an agent panic into an ordinary turn failure.
func (s *ConversationService) invokeAgent(ctx context.Context, req AgentRequest) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent panicked", "dialog_id", req.DialogID, "panic", r, "stack", string(debug.Stack()))
			reply, err = "", fmt.Errorf("%w: %v", errAgentPanic, r)
		}
	}()
	return s.agent.Invoke(ctx, req)
}

func (s *ConversationService) generateTitle(ctx context.Context, message string, log *slog.Logger) string {
	if s.titles == nil {
		return ""
	}
	start := time.Now()
	title, err := s.titles.GenerateTitle(ctx, message)
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpTitleGenerate, time.Since(start))
	}
	if err != nil {
		log.Warn("title generation failed", "error", err)
		return ""
	}
	return models.ClampWords(title, titleMaxWords)
}

func (s *ConversationService) recordStore(start time.Time) {
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpStoreQuery, time.Since(start))
	}
}

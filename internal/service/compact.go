package service

import (
	"fmt"

	"github.com/raphaelgruber/medresearch/internal/models"
)

// CompactionPolicy bounds the transcript sent to the agent.
// Threshold <= 0 disables compaction.
type CompactionPolicy struct {
	Threshold int
	KeepLast  int
}

// Compact shortens history for the outgoing message list once it exceeds the
// threshold. It keeps the last KeepLast messages, moved forward so the window
// starts on a user turn, behind a single system note counting what was dropped.
// The input is never modified; the stored transcript is always complete.
func Compact(history []models.ChatMessage, p CompactionPolicy) []models.ChatMessage {
	if p.Threshold <= 0 || len(history) <= p.Threshold {
		return append([]models.ChatMessage(nil), history...)
	}

	keep := max(p.KeepLast, 0)
	start := max(len(history)-keep, 0)
	for start < len(history) && history[start].Role != models.RoleUser {
		start++
	}

	out := make([]models.ChatMessage, 0, len(history)-start+1)
	out = append(out, models.SystemMessage(fmt.Sprintf("[%d earlier messages omitted]", start)))
	return append(out, history[start:]...)
}

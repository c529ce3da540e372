package models

import (
	"slices"
	"time"
)

// DefaultDialogTitle is the title a dialog carries until its first successful turn.
const DefaultDialogTitle = "New Dialog"

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleSystem only appears in outgoing agent message lists, never in a stored transcript.
	RoleSystem = "system"
)

// ChatMessage is a single turn in a dialog transcript.
type ChatMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// Dialog is one conversation owned by a user.
type Dialog struct {
	ID          int64         `json:"id" yaml:"id"`
	UserID      int64         `json:"user_id" yaml:"user_id"`
	Title       string        `json:"title" yaml:"title"`
	ChatHistory []ChatMessage `json:"chat_history" yaml:"chat_history"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt   *time.Time    `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// HasDefaultTitle reports whether the dialog still carries the sentinel title.
func (d *Dialog) HasDefaultTitle() bool {
	return d.Title == DefaultDialogTitle
}

// Append adds turns to the end of the transcript.
func (d *Dialog) Append(msgs ...ChatMessage) {
	d.ChatHistory = append(d.ChatHistory, msgs...)
}

// FirstUserMessage returns the content of the earliest user turn, or "".
func (d *Dialog) FirstUserMessage() string {
	for _, m := range d.ChatHistory {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// Clone returns a deep copy so callers can mutate the transcript freely.
func (d *Dialog) Clone() *Dialog {
	if d == nil {
		return nil
	}
	out := *d
	out.ChatHistory = slices.Clone(d.ChatHistory)
	if out.ChatHistory == nil {
		out.ChatHistory = []ChatMessage{}
	}
	if d.UpdatedAt != nil {
		t := *d.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}

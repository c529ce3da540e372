// Package service provides the research conversation workflow: context
// assembly, the per-turn driver and finding/dialog operations on behalf of a user.
package service

import (
	"strings"

	"github.com/raphaelgruber/medresearch/internal/models"
)

// Section headers of the assembled context block.
const (
	ExclusionHeader = "EXCLUSION LIST"
	ExistingHeader  = "EXISTING FINDINGS"
)

// AssembleContext renders the findings of a dialog as a context block for the
// next agent call. Findings marked non-relevant go to the exclusion list with
// their reason; all others are listed as existing. Empty sections are omitted
// and no findings yield an empty string. Input order is preserved.
func AssembleContext(findings []*models.Finding) string {
	var excluded, existing []string
	for _, f := range findings {
		if f == nil {
			continue
		}
		if f.NonRelevanceMark {
			excluded = append(excluded, "- "+f.Title+" (Reason: "+f.RelevanceReason+")")
		} else {
			existing = append(existing, "- "+f.Title)
		}
	}

	var sections []string
	if len(excluded) > 0 {
		sections = append(sections, ExclusionHeader+" (the user marked these as not relevant; do not suggest them again):\n"+strings.Join(excluded, "\n"))
	}
	if len(existing) > 0 {
		sections = append(sections, ExistingHeader+" (already saved in this dialog; do not save them again):\n"+strings.Join(existing, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// BuildMessages returns the outgoing message list: prior transcript, then the
// context block as a system message when non-empty, then the new user message.
func BuildMessages(history []models.ChatMessage, contextBlock, userMessage string) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history)+2)
	out = append(out, history...)
	if contextBlock != "" {
		out = append(out, models.SystemMessage(contextBlock))
	}
	return append(out, models.UserMessage(userMessage))
}

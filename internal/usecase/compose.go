package usecase

import (
	"localchat/internal/domain"
	"localchat/internal/tokens"
)

// summaryPreamble frames the rolling summary as background context for the
// model; the summary stands in for older history that no longer fits the
// budget, so it is always included when present.
const summaryPreamble = "Summary of the conversation so far:\n"

// composePrompt assembles the ordered prompt segments for one generation
// call: system prompt first (if any), then the rolling summary (if any), then
// any system-role history messages, then as many of the most recent
// user/assistant history messages as the token budget allows in chronological
// order, then the new user message last.
//
// The system prompt, system-role history, and the new user message are
// mandatory and are emitted even when they alone exceed the budget;
// conversational history is what gives way. A history message is included
// whole or not at all — selection walks newest-first and stops at the first
// message that would overflow the budget. Pure function: identical inputs
// yield identical output.
func composePrompt(systemPrompt, summary string, history []domain.Message, question string, budget int) []domain.ChatMessage {
	prompt := make([]domain.ChatMessage, 0, len(history)+3)

	used := tokens.Estimate(question)
	if systemPrompt != "" {
		prompt = append(prompt, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
		used += tokens.Estimate(systemPrompt)
	}
	if summary != "" {
		framed := summaryPreamble + summary
		prompt = append(prompt, domain.ChatMessage{Role: domain.RoleSystem, Content: framed})
		used += tokens.Estimate(framed)
	}

	conversational := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			// System rows are fixed preamble, never subject to trimming.
			prompt = append(prompt, domain.ChatMessage{Role: m.Role, Content: m.Content})
			used += tokens.Estimate(m.Content)
			continue
		}
		conversational = append(conversational, m)
	}

	// Walk history newest-first so the budget favors recent context.
	included := 0
	for i := len(conversational) - 1; i >= 0; i-- {
		cost := tokens.Estimate(conversational[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		included++
	}

	// Emit the selected suffix in its original chronological order.
	for _, m := range conversational[len(conversational)-included:] {
		prompt = append(prompt, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}

	return append(prompt, domain.ChatMessage{Role: domain.RoleUser, Content: question})
}

package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"localchat/internal/domain"
)

// maintenanceTimeout bounds the post-exchange generation calls. Maintenance
// holds the thread's lock and is waited on at shutdown, so a hung backend
// call must not be allowed to stall either indefinitely.
const maintenanceTimeout = 60 * time.Second

// maintain runs the post-exchange maintenance tasks. Both are best-effort:
// a failure is logged and the thread is left as it was, never surfaced to
// the client and never retried synchronously.
//
// prior is the number of history messages that existed before this exchange
// appended its user/assistant pair.
func (s *ChatService) maintain(ctx context.Context, thread *domain.Thread, question, reply string, prior int) {
	ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
	defer cancel()

	if prior == 0 {
		s.autoTitle(ctx, thread.ID, question, reply)
	}
	// Refresh when this exchange's two appended messages crossed a multiple
	// of the configured cadence.
	if (prior+2)/s.summaryEvery > prior/s.summaryEvery {
		s.refreshSummary(ctx, thread)
	}
}

// autoTitle asks the backend for a short title for a brand-new thread. On
// failure the placeholder title stays.
func (s *ChatService) autoTitle(ctx context.Context, threadID, question, reply string) {
	prompt := fmt.Sprintf(
		"Generate a short (5-7 word) title for a conversation that starts with:\n\nuser: %s\nassistant: %s\n\nReturn only the title, no quotes.",
		question, reply,
	)
	title, err := s.relay.generate(ctx, []domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		s.logger.Warn("auto-title failed", "thread", threadID, "err", err)
		return
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" {
		return
	}
	if err := s.store.SetTitle(ctx, threadID, title); err != nil {
		s.logger.Warn("auto-title persist failed", "thread", threadID, "err", err)
	}
}

// refreshSummary regenerates the thread's rolling summary from the previous
// summary plus the most recent messages. The new summary replaces the old
// one; on failure the previous summary stays.
func (s *ChatService) refreshSummary(ctx context.Context, thread *domain.Thread) {
	_, history, err := s.store.GetThreadWithHistory(ctx, thread.ID)
	if err != nil {
		s.logger.Warn("summary refresh read failed", "thread", thread.ID, "err", err)
		return
	}

	window := history
	if len(window) > s.summaryEvery {
		window = window[len(window)-s.summaryEvery:]
	}

	var sb strings.Builder
	sb.WriteString("Update the running summary of this conversation. Preserve key facts and decisions; be concise. Return only the updated summary.\n")
	if thread.Summary != "" {
		sb.WriteString("\nPrevious summary:\n")
		sb.WriteString(thread.Summary)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRecent messages:\n")
	for _, m := range window {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	summary, err := s.relay.generate(ctx, []domain.ChatMessage{{Role: domain.RoleUser, Content: sb.String()}})
	if err != nil {
		s.logger.Warn("summary refresh failed", "thread", thread.ID, "err", err)
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	if err := s.store.SetSummary(ctx, thread.ID, summary); err != nil {
		s.logger.Warn("summary persist failed", "thread", thread.ID, "err", err)
		return
	}
	s.logger.Info("summary refreshed", "thread", thread.ID, "messages", len(history), "summary_len", len(summary))
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"localchat/internal/domain"
	"localchat/internal/tokens"
)

const (
	defaultTokenBudget   = 2048
	defaultSummaryEvery  = 10
	defaultMaxMessageLen = 4000
)

// ThreadStore is the persistence layer consumed by the orchestrator. The
// orchestrator assumes no other writer mutates a thread while it holds that
// thread's critical section. GetThreadWithHistory returns a nil thread when
// the id is unknown.
type ThreadStore interface {
	GetThreadWithHistory(ctx context.Context, threadID string) (*domain.Thread, []domain.Message, error)
	AppendMessage(ctx context.Context, threadID string, role domain.Role, content string, tokenCount int) (*domain.Message, error)
	SetTitle(ctx context.Context, threadID, title string) error
	SetSummary(ctx context.Context, threadID, summary string) error
	TouchUpdatedAt(ctx context.Context, threadID string) error
}

// ChatService orchestrates one exchange per incoming message: persist the
// user message, compose a token-bounded prompt, stream the generation to the
// caller while accumulating it, persist the assistant reply, then run
// best-effort maintenance (auto-title, summary refresh).
type ChatService struct {
	store        ThreadStore
	relay        relay
	locks        *threadLocks
	logger       *slog.Logger
	systemPrompt string
	tokenBudget  int
	summaryEvery int
	maxMsgLen    int

	maintWG sync.WaitGroup
}

type ExchangeInput struct {
	ThreadID string
	Content  string
}

// ExchangeOutput reports a completed exchange. Reply is the full accumulated
// assistant text; when the backend failed mid-stream Reply holds the partial
// text (already persisted) and StreamErr carries the failure so the transport
// can end the client stream with an explicit error signal. ClientGone is set
// when the consumer stopped accepting chunks; the reply was still persisted.
type ExchangeOutput struct {
	ThreadID   string
	Reply      string
	StreamErr  error
	ClientGone bool
}

// NewChatService validates dependencies and applies defaults for
// non-positive limits, mirroring how configuration flows in from main.
func NewChatService(store ThreadStore, llm LLMClient, systemPrompt string, tokenBudget, summaryEvery, maxMessageLen int) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: thread store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	if summaryEvery <= 0 {
		summaryEvery = defaultSummaryEvery
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ChatService{
		store:        store,
		relay:        relay{llm: llm},
		locks:        newThreadLocks(),
		logger:       slog.Default(),
		systemPrompt: strings.TrimSpace(systemPrompt),
		tokenBudget:  tokenBudget,
		summaryEvery: summaryEvery,
		maxMsgLen:    maxMessageLen,
	}, nil
}

// Exchange runs one full user/assistant exchange on a thread, invoking
// forward for every assistant chunk as it arrives. It holds the thread's
// exclusive lock from before the user message is persisted until maintenance
// has been evaluated; exchanges on other threads proceed independently.
//
// An error return means the exchange failed before any generation output was
// produced (bad input, unknown thread, persistence failure) and nothing was
// streamed. A mid-stream backend failure is not an error return: the partial
// reply is persisted and reported via ExchangeOutput.StreamErr.
func (s *ChatService) Exchange(ctx context.Context, in ExchangeInput, forward func(chunk string) error) (ExchangeOutput, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return ExchangeOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(content) > s.maxMsgLen {
		return ExchangeOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if forward == nil {
		forward = func(string) error { return nil }
	}

	unlock := s.locks.acquire(in.ThreadID)
	held := true
	defer func() {
		if held {
			unlock()
		}
	}()

	thread, history, err := s.store.GetThreadWithHistory(ctx, in.ThreadID)
	if err != nil {
		return ExchangeOutput{}, newError(ErrorInternal, "store_history_error", err)
	}
	if thread == nil {
		return ExchangeOutput{}, newError(ErrorNotFound, "thread_not_found", nil)
	}

	// Persist the user message before any generation call so no input is
	// lost even if generation fails.
	if _, err := s.store.AppendMessage(ctx, thread.ID, domain.RoleUser, content, tokens.Estimate(content)); err != nil {
		return ExchangeOutput{}, newError(ErrorInternal, "store_append_error", err)
	}

	prompt := composePrompt(s.systemPrompt, thread.Summary, history, content, s.tokenBudget)

	reply, streamErr := s.relay.stream(ctx, prompt, forward)
	// A canceled request context means the client went away, which also
	// tears down the backend call; either way it is the consumer leaving,
	// not a generation failure.
	clientGone := streamErr != nil && (consumerGone(streamErr) || ctx.Err() != nil)
	if clientGone {
		// The consumer stopped pulling; normal early termination. The
		// accumulated text is still persisted below.
		s.logger.Info("client left mid-stream", "thread", thread.ID, "accumulated", len(reply))
		streamErr = nil
	}

	// Persist whatever was accumulated, partial or complete. A failed
	// exchange still leaves real conversational history behind. Use a
	// context that survives client disconnects.
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.store.AppendMessage(persistCtx, thread.ID, domain.RoleAssistant, reply, tokens.Estimate(reply)); err != nil {
		return ExchangeOutput{Reply: reply}, newError(ErrorInternal, "store_append_error", err)
	}
	if err := s.store.TouchUpdatedAt(persistCtx, thread.ID); err != nil {
		s.logger.Warn("touch thread failed", "thread", thread.ID, "err", err)
	}

	// Maintenance runs after the client response is complete but still
	// inside the thread's critical section; the goroutine inherits the lock
	// and releases it when done.
	prior := len(history)
	held = false
	s.maintWG.Add(1)
	go func() {
		defer s.maintWG.Done()
		defer unlock()
		s.maintain(persistCtx, thread, content, reply, prior)
	}()

	return ExchangeOutput{
		ThreadID:   thread.ID,
		Reply:      reply,
		StreamErr:  streamErr,
		ClientGone: clientGone,
	}, nil
}

// Drain blocks until all in-flight maintenance tasks have finished. Called
// during shutdown so fire-and-forget work is not cut off.
func (s *ChatService) Drain() {
	s.maintWG.Wait()
}

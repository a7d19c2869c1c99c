package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"localchat/internal/domain"
)

// LLMClient is the generation backend consumed by the orchestrator. Stream
// invokes fn once per produced chunk, in arrival order, and returns after
// end-of-stream or on the first error (including fn's own). Generate performs
// one non-streaming call and returns only the final text.
type LLMClient interface {
	Stream(ctx context.Context, messages []domain.ChatMessage, fn func(chunk string) error) error
	Generate(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// forwardError marks an error raised by the chunk consumer rather than the
// backend, so that a client going away mid-stream is distinguishable from a
// generation failure.
type forwardError struct{ err error }

func (e *forwardError) Error() string { return fmt.Sprintf("forward chunk: %v", e.err) }
func (e *forwardError) Unwrap() error { return e.err }

// relay drives one streaming generation call, forwarding every chunk to the
// consumer as it arrives while accumulating the full text for persistence.
type relay struct {
	llm LLMClient
}

// stream runs the backend call and returns the accumulated text. The text is
// returned even when err is non-nil: a mid-stream failure surfaces whatever
// was produced so far (possibly empty) instead of discarding it. A non-nil
// error from forward stops the stream and is wrapped so callers can treat
// consumer cancellation as normal early termination.
func (r *relay) stream(ctx context.Context, messages []domain.ChatMessage, forward func(chunk string) error) (string, error) {
	var acc strings.Builder
	err := r.llm.Stream(ctx, messages, func(chunk string) error {
		acc.WriteString(chunk)
		if ferr := forward(chunk); ferr != nil {
			return &forwardError{err: ferr}
		}
		return nil
	})
	return acc.String(), err
}

// generate performs a non-streaming call; incremental chunks, if the backend
// produces any, are collapsed into the final text by the client.
func (r *relay) generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return r.llm.Generate(ctx, messages)
}

// consumerGone reports whether err originated in the chunk consumer.
func consumerGone(err error) bool {
	var fe *forwardError
	return errors.As(err, &fe)
}

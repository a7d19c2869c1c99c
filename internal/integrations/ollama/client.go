package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"localchat/internal/domain"
)

// generateRequest is the minimal request shape for the Ollama generate endpoint.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is one NDJSON line of a streaming response, or the whole
// body of a non-streaming one.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ollama: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for a locally hosted Ollama server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the given server URL and model name. The
// default HTTP client carries no overall timeout: streaming generations are
// open-ended and are bounded by the caller's context instead.
func NewClient(baseURL, model string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ollama: base URL must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("ollama: model must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) generateURL() string {
	return c.baseURL + "/api/generate"
}

// flattenPrompt renders role-tagged segments into the single prompt string
// the generate endpoint expects.
func flattenPrompt(messages []domain.ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, string(m.Role)+": "+m.Content)
	}
	return strings.Join(parts, "\n")
}

func (c *Client) newGenerateRequest(ctx context.Context, messages []domain.ChatMessage, stream bool) (*http.Request, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: flattenPrompt(messages),
		Stream: stream,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Stream opens a streaming generation and invokes fn once per produced text
// chunk, in arrival order. It returns after the server signals completion,
// on the first transport error, or when fn returns an error (which is
// propagated unchanged).
func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, fn func(chunk string) error) error {
	req, err := c.newGenerateRequest(ctx, messages, true)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: c.generateURL(), Body: string(buf)}
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Tolerate the occasional non-JSON keepalive line.
			continue
		}
		if chunk.Response != "" {
			if err := fn(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama: read stream: %w", err)
	}
	return errors.New("ollama: stream ended without done marker")
}

// Generate performs a non-streaming generation and returns the final text.
func (c *Client) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	req, err := c.newGenerateRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: c.generateURL(), Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ollama: read response body: %w", err)
	}
	var payload generateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return payload.Response, nil
}

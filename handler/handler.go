package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"localchat/internal/domain"
	"localchat/internal/usecase"
)

// ThreadStore is the persistence surface the HTTP layer needs for thread CRUD.
type ThreadStore interface {
	CreateThread(ctx context.Context, title string) (*domain.Thread, error)
	ListThreads(ctx context.Context, query string, skip, limit int) ([]*domain.Thread, error)
	GetThreadWithHistory(ctx context.Context, threadID string) (*domain.Thread, []domain.Message, error)
	UpdateThread(ctx context.Context, threadID string, title, summary *string) (*domain.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// Chatter runs one streaming exchange; implemented by usecase.ChatService.
type Chatter interface {
	Exchange(ctx context.Context, in usecase.ExchangeInput, forward func(chunk string) error) (usecase.ExchangeOutput, error)
}

type Handler struct {
	store ThreadStore
	chat  Chatter
}

func NewHandler(store ThreadStore, chat Chatter) (*Handler, error) {
	if store == nil {
		return nil, errors.New("handler: thread store must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{store: store, chat: chat}, nil
}

// Register wires all routes onto the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.health)
	g := e.Group("/api/threads")
	g.POST("", h.createThread)
	g.GET("", h.listThreads)
	g.GET("/:id", h.getThread)
	g.PATCH("/:id", h.updateThread)
	g.DELETE("/:id", h.deleteThread)
	g.POST("/:id/messages", h.postMessage)
}

type threadRequest struct {
	Title   *string `json:"title"`
	Summary *string `json:"summary"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type threadResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	CreatedTs int64  `json:"createdTs"`
}

type threadWithMessagesResponse struct {
	threadResponse
	Messages []messageResponse `json:"messages"`
}

func toThreadResponse(t *domain.Thread) threadResponse {
	return threadResponse{
		ID:        t.ID,
		Title:     t.Title,
		Summary:   t.Summary,
		CreatedTs: t.CreatedTs,
		UpdatedTs: t.UpdatedTs,
	}
}

func (h *Handler) health(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (h *Handler) createThread(c *echo.Context) error {
	var req threadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}
	thread, err := h.store.CreateThread(c.Request().Context(), title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, toThreadResponse(thread))
}

func (h *Handler) listThreads(c *echo.Context) error {
	params := c.Request().URL.Query()
	skip := intParam(params.Get("skip"), 0)
	limit := intParam(params.Get("limit"), 100)
	threads, err := h.store.ListThreads(c.Request().Context(), params.Get("q"), skip, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]threadResponse, 0, len(threads))
	for _, t := range threads {
		resp = append(resp, toThreadResponse(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) getThread(c *echo.Context) error {
	thread, msgs, err := h.store.GetThreadWithHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if thread == nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	resp := threadWithMessagesResponse{
		threadResponse: toThreadResponse(thread),
		Messages:       make([]messageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			ID:        m.ID,
			ThreadID:  m.ThreadID,
			Role:      string(m.Role),
			Content:   m.Content,
			Tokens:    m.TokenCount,
			CreatedTs: m.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) updateThread(c *echo.Context) error {
	var req threadRequest
	if err := c.Bind(&req); err != nil || (req.Title == nil && req.Summary == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "title or summary required")
	}
	thread, err := h.store.UpdateThread(c.Request().Context(), c.Param("id"), req.Title, req.Summary)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if thread == nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return c.JSON(http.StatusOK, toThreadResponse(thread))
}

func (h *Handler) deleteThread(c *echo.Context) error {
	thread, _, err := h.store.GetThreadWithHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if thread == nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	if err := h.store.DeleteThread(c.Request().Context(), thread.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// postMessage appends a user message and streams the assistant reply back as
// server-sent events: one "token" event per chunk, then "done", or "error"
// when generation failed mid-stream.
func (h *Handler) postMessage(c *echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}

	rw := c.Response()
	started := false
	emit := func(eventType, payload string) {
		if !started {
			// Headers are written lazily so pre-stream failures can still
			// produce a proper HTTP error status.
			rw.Header().Set("Content-Type", "text/event-stream")
			rw.Header().Set("Cache-Control", "no-cache")
			rw.Header().Set("Connection", "keep-alive")
			rw.Header().Set("X-Accel-Buffering", "no")
			rw.WriteHeader(http.StatusOK)
			started = true
		}
		data, _ := json.Marshal(map[string]string{"type": eventType, "content": payload})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}

	out, err := h.chat.Exchange(c.Request().Context(), usecase.ExchangeInput{
		ThreadID: c.Param("id"),
		Content:  req.Content,
	}, func(chunk string) error {
		emit("token", chunk)
		return nil
	})
	if err != nil {
		if !started {
			return usecaseHTTPError(err)
		}
		emit("error", err.Error())
		return nil
	}
	if out.ClientGone {
		return nil
	}
	if out.StreamErr != nil {
		emit("error", out.StreamErr.Error())
		return nil
	}
	emit("done", out.ThreadID)
	return nil
}

// usecaseHTTPError maps the orchestrator's error taxonomy onto HTTP statuses.
func usecaseHTTPError(err error) error {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	switch uerr.Code {
	case usecase.ErrorInvalidInput:
		return echo.NewHTTPError(http.StatusBadRequest, uerr.Reason)
	case usecase.ErrorNotFound:
		return echo.NewHTTPError(http.StatusNotFound, uerr.Reason)
	case usecase.ErrorUpstream:
		return echo.NewHTTPError(http.StatusBadGateway, uerr.Reason)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, uerr.Reason)
	}
}

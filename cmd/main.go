package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"

	"localchat/handler"
	"localchat/internal/integrations/ollama"
	"localchat/internal/repository"
	"localchat/internal/usecase"
)

func main() {
	// ---- Configuration (read only here) ----
	listenAddr := envStr("LISTEN_ADDR", ":8000")
	dbPath := envStr("DB_PATH", "chat.db")
	ollamaURL := envStr("OLLAMA_URL", "http://localhost:11434")
	ollamaModel := envStr("OLLAMA_MODEL", "gemma:2b")
	systemPrompt := os.Getenv("SYSTEM_PROMPT")
	tokenBudget := envInt("CONTEXT_TOKEN_BUDGET", 2048)
	summaryEvery := envInt("SUMMARY_REFRESH_EVERY", 10)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 4000)

	// ---- Persistence ----
	db, err := repository.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store, err := repository.New(db)
	if err != nil {
		slog.Error("failed to create store", "err", err)
		os.Exit(1)
	}
	if err := store.Migrate(context.Background()); err != nil {
		slog.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	llm, err := ollama.NewClient(ollamaURL, ollamaModel)
	if err != nil {
		slog.Error("failed to create ollama client", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	chatService, err := usecase.NewChatService(store, llm, systemPrompt, tokenBudget, summaryEvery, maxMessageLen)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(store, chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	e := echo.New()
	h.Register(e)

	srv := &http.Server{Addr: listenAddr, Handler: e}
	go func() {
		slog.Info("listening", "addr", listenAddr, "model", ollamaModel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
	// Let in-flight maintenance (titles, summaries) finish before exiting.
	chatService.Drain()
}

func envStr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"localchat/internal/domain"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS thread (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		summary    TEXT NOT NULL DEFAULT '',
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		thread_id   TEXT NOT NULL REFERENCES thread(id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_ts  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_thread ON message(thread_id)`,
}

// Open opens (or creates) the sqlite database at path and applies the
// pragmas the store relies on. Use ":memory:" for an ephemeral database.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: database path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "repository: open database")
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "repository: %s", pragma)
		}
	}
	return db, nil
}

// Store persists threads and messages in sqlite.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &Store{db: db}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "repository: migrate")
		}
	}
	return nil
}

// CreateThread inserts a new thread. An empty title gets the default.
func (s *Store) CreateThread(ctx context.Context, title string) (*domain.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultTitle
	}
	now := time.Now().Unix()
	thread := &domain.Thread{
		ID:        shortuuid.New(),
		Title:     title,
		CreatedTs: now,
		UpdatedTs: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread (id, title, summary, created_ts, updated_ts) VALUES (?, ?, '', ?, ?)`,
		thread.ID, thread.Title, thread.CreatedTs, thread.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "repository: CreateThread")
	}
	return thread, nil
}

// defaultListLimit caps ListThreads result pages when the caller does not
// ask for a size.
const defaultListLimit = 100

// ListThreads returns a page of threads, most recently updated first. A
// non-empty query filters by title substring, case-insensitively. Negative
// skip is treated as zero; a non-positive limit falls back to the default.
func (s *Store) ListThreads(ctx context.Context, query string, skip, limit int) ([]*domain.Thread, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	where, args := "1 = 1", []any{}
	if q := strings.TrimSpace(query); q != "" {
		where = "title LIKE ? COLLATE NOCASE"
		args = append(args, "%"+q+"%")
	}
	args = append(args, limit, skip)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, summary, created_ts, updated_ts FROM thread WHERE `+where+` ORDER BY updated_ts DESC, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "repository: ListThreads")
	}
	defer rows.Close()

	var list []*domain.Thread
	for rows.Next() {
		t := &domain.Thread{}
		if err := rows.Scan(&t.ID, &t.Title, &t.Summary, &t.CreatedTs, &t.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "repository: ListThreads scan")
		}
		list = append(list, t)
	}
	return list, errors.Wrap(rows.Err(), "repository: ListThreads rows")
}

// GetThread returns the thread with the given id, or nil when unknown.
func (s *Store) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	t := &domain.Thread{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, summary, created_ts, updated_ts FROM thread WHERE id = ?`,
		threadID,
	).Scan(&t.ID, &t.Title, &t.Summary, &t.CreatedTs, &t.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "repository: GetThread")
	}
	return t, nil
}

// GetThreadWithHistory returns the thread and its messages in creation order.
// The thread is nil when the id is unknown.
func (s *Store) GetThreadWithHistory(ctx context.Context, threadID string) (*domain.Thread, []domain.Message, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil || thread == nil {
		return thread, nil, err
	}
	msgs, err := s.listMessages(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	return thread, msgs, nil
}

func (s *Store) listMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, token_count, created_ts FROM message WHERE thread_id = ? ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "repository: listMessages")
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "repository: listMessages scan")
		}
		msgs = append(msgs, m)
	}
	return msgs, errors.Wrap(rows.Err(), "repository: listMessages rows")
}

// AppendMessage inserts a message and refreshes the owning thread's
// updated_ts in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, threadID string, role domain.Role, content string, tokenCount int) (*domain.Message, error) {
	if !role.Valid() {
		return nil, errors.Errorf("repository: AppendMessage: unknown role %q", role)
	}
	now := time.Now().Unix()
	msg := &domain.Message{
		ID:         uuid.NewString(),
		ThreadID:   threadID,
		Role:       role,
		Content:    content,
		TokenCount: tokenCount,
		CreatedTs:  now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "repository: AppendMessage begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message (id, thread_id, role, content, token_count, created_ts) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, string(msg.Role), msg.Content, msg.TokenCount, msg.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "repository: AppendMessage insert")
	}
	if err := touchThread(ctx, tx, threadID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "repository: AppendMessage commit")
	}
	return msg, nil
}

// UpdateThread sets the given fields; nil fields are left untouched.
func (s *Store) UpdateThread(ctx context.Context, threadID string, title, summary *string) (*domain.Thread, error) {
	set, args := []string{}, []any{}
	if title != nil {
		set, args = append(set, "title = ?"), append(args, *title)
	}
	if summary != nil {
		set, args = append(set, "summary = ?"), append(args, *summary)
	}
	if len(set) > 0 {
		set = append(set, "updated_ts = MAX(updated_ts, ?)")
		args = append(args, time.Now().Unix(), threadID)
		if _, err := s.db.ExecContext(ctx,
			`UPDATE thread SET `+strings.Join(set, ", ")+` WHERE id = ?`,
			args...,
		); err != nil {
			return nil, errors.Wrap(err, "repository: UpdateThread")
		}
	}
	return s.GetThread(ctx, threadID)
}

// SetTitle replaces the thread's title.
func (s *Store) SetTitle(ctx context.Context, threadID, title string) error {
	_, err := s.UpdateThread(ctx, threadID, &title, nil)
	return err
}

// SetSummary replaces the thread's rolling summary.
func (s *Store) SetSummary(ctx context.Context, threadID, summary string) error {
	_, err := s.UpdateThread(ctx, threadID, nil, &summary)
	return err
}

// TouchUpdatedAt refreshes the thread's updated_ts without changing anything
// else. The timestamp never moves backwards.
func (s *Store) TouchUpdatedAt(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE thread SET updated_ts = MAX(updated_ts, ?) WHERE id = ?`,
		time.Now().Unix(), threadID,
	)
	return errors.Wrap(err, "repository: TouchUpdatedAt")
}

// DeleteThread removes a thread and, via cascade, all its messages.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM thread WHERE id = ?`, threadID)
	return errors.Wrap(err, "repository: DeleteThread")
}

func touchThread(ctx context.Context, tx *sql.Tx, threadID string, now int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE thread SET updated_ts = MAX(updated_ts, ?) WHERE id = ?`,
		now, threadID,
	); err != nil {
		return errors.Wrap(err, "repository: touch thread")
	}
	return nil
}

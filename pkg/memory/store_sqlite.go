// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the durable per-thread conversation log. It exclusively owns all
// thread records; callers mutate history only through Append, Remove, and the
// prune phases.
type Store struct {
	db    *sql.DB
	locks *threadLocks
}

// NewStore creates/opens the conversation database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, locks: newThreadLocks()}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_key TEXT PRIMARY KEY,
			channel TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			thread_key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_calls_json TEXT NOT NULL DEFAULT '[]',
			suppress INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS turns_thread_seq_idx ON turns(thread_key, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

// LockThread serializes mutation of one thread key. The returned func
// releases the lock. Distinct threads never contend.
func (s *Store) LockThread(threadKey string) func() {
	return s.locks.lock(threadKey)
}

// Append appends turns to the thread in order. Appends are idempotent: a
// turn whose ID is already stored is skipped. Turns without an ID get one.
func (s *Store) Append(ctx context.Context, threadKey string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	nowMS := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO threads (thread_key, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?)
		 ON CONFLICT(thread_key) DO UPDATE SET updated_at_ms=excluded.updated_at_ms`,
		threadKey, nowMS, nowMS,
	); err != nil {
		return fmt.Errorf("upsert thread %s: %w", threadKey, err)
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE thread_key = ?`, threadKey,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read max seq for %s: %w", threadKey, err)
	}

	for _, turn := range turns {
		id := strings.TrimSpace(turn.ID)
		if id == "" {
			id = "turn-" + uuid.NewString()
		}
		toolCallsJSON, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		maxSeq++
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO turns
			 (id, thread_key, seq, role, sender, content, tool_call_id, tool_name, tool_calls_json, suppress, created_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, threadKey, maxSeq, string(turn.Role), turn.Sender, turn.Content,
			turn.ToolCallID, turn.ToolName, string(toolCallsJSON), boolToInt(turn.SuppressResponse), createdAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("append turn to %s: %w", threadKey, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Duplicate ID: idempotent append, seq slot not consumed.
			maxSeq--
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET turn_count = (SELECT COUNT(*) FROM turns WHERE thread_key = ?), updated_at_ms = ? WHERE thread_key = ?`,
		threadKey, nowMS, threadKey,
	); err != nil {
		return fmt.Errorf("update thread count for %s: %w", threadKey, err)
	}

	return tx.Commit()
}

// Load returns the full ordered history of a thread.
func (s *Store) Load(ctx context.Context, threadKey string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, role, sender, content, tool_call_id, tool_name, tool_calls_json, suppress, created_at_ms
		 FROM turns WHERE thread_key = ? ORDER BY seq ASC`, threadKey)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadKey, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			turn          Turn
			toolCallsJSON string
			suppress      int
			createdAtMS   int64
			role          string
		)
		if err := rows.Scan(&turn.ID, &turn.Seq, &role, &turn.Sender, &turn.Content,
			&turn.ToolCallID, &turn.ToolName, &toolCallsJSON, &suppress, &createdAtMS); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.ThreadKey = threadKey
		turn.Role = Role(role)
		turn.SuppressResponse = suppress != 0
		turn.CreatedAt = time.UnixMilli(createdAtMS)
		if toolCallsJSON != "" && toolCallsJSON != "[]" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for turn %s: %w", turn.ID, err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Remove deletes the identified turns from a thread.
func (s *Store) Remove(ctx context.Context, threadKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM turns WHERE thread_key = ? AND id = ?`, threadKey, id); err != nil {
			return fmt.Errorf("remove turn %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET turn_count = (SELECT COUNT(*) FROM turns WHERE thread_key = ?) WHERE thread_key = ?`,
		threadKey, threadKey,
	); err != nil {
		return fmt.Errorf("update thread count for %s: %w", threadKey, err)
	}

	return tx.Commit()
}

// Sanitize is prune phase 1: it removes every system turn, every tool-result
// turn, and every assistant turn that carried a tool-call request. Scaffolding
// must not accumulate across cycles or leak into future context windows.
func (s *Store) Sanitize(ctx context.Context, threadKey string) (int, error) {
	turns, err := s.Load(ctx, threadKey)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, turn := range turns {
		if turn.IsScaffolding() {
			ids = append(ids, turn.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.Remove(ctx, threadKey, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Bound is prune phase 2: if the thread holds more than limit turns, the
// oldest excess turns are removed so exactly the most recent limit remain.
func (s *Store) Bound(ctx context.Context, threadKey string, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("bound limit must be positive, got %d", limit)
	}

	turns, err := s.Load(ctx, threadKey)
	if err != nil {
		return 0, err
	}
	excess := len(turns) - limit
	if excess <= 0 {
		return 0, nil
	}

	ids := make([]string, 0, excess)
	for _, turn := range turns[:excess] {
		ids = append(ids, turn.ID)
	}
	if err := s.Remove(ctx, threadKey, ids); err != nil {
		return 0, err
	}
	return excess, nil
}

// Prune runs both phases in order. Sanitizing first keeps the retention
// limit meaningful in conversational turns rather than letting tool chatter
// dominate it.
func (s *Store) Prune(ctx context.Context, threadKey string, limit int) (sanitized, bounded int, err error) {
	sanitized, err = s.Sanitize(ctx, threadKey)
	if err != nil {
		return sanitized, 0, err
	}
	bounded, err = s.Bound(ctx, threadKey, limit)
	return sanitized, bounded, err
}

// SetThreadOrigin records the transport coordinates for a thread so replies
// can be routed back later (used by idle volunteering).
func (s *Store) SetThreadOrigin(ctx context.Context, threadKey, channel, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET channel = ?, chat_id = ? WHERE thread_key = ?`,
		channel, chatID, threadKey)
	if err != nil {
		return fmt.Errorf("set origin for %s: %w", threadKey, err)
	}
	return nil
}

// ListThreads returns summaries of all stored threads.
func (s *Store) ListThreads(ctx context.Context) ([]ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_key, channel, chat_id, turn_count, updated_at_ms FROM threads ORDER BY updated_at_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var infos []ThreadInfo
	for rows.Next() {
		var (
			info      ThreadInfo
			updatedMS int64
		)
		if err := rows.Scan(&info.ThreadKey, &info.Channel, &info.ChatID, &info.TurnCount, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		info.LastActivity = time.UnixMilli(updatedMS)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

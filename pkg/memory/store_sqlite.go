package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one snapshot row per log name. Several personas (or
// per-run logs) can share a database file.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path, name string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// The worker is the only writer; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, name: name}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT PRIMARY KEY,
			persona_name TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM snapshots WHERE name = ?`, s.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.name, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.name, err)
	}
	if snap.ChatHistory == nil {
		snap.ChatHistory = map[string][]Message{}
	}
	return &snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	count := 0
	for _, msgs := range snap.ChatHistory {
		count += len(msgs)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots(name, persona_name, payload_json, message_count, updated_at_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	persona_name = excluded.persona_name,
	payload_json = excluded.payload_json,
	message_count = excluded.message_count,
	updated_at_ms = excluded.updated_at_ms`,
		s.name, snap.Persona.Name, string(payload), count, nowMS())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.name, err)
	}
	return nil
}

func nowMS() int64 { return time.Now().UnixMilli() }

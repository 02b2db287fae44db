package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/persona"
)

// Snapshot is everything written after a reply: the active persona and all
// recorded locations. Each save overwrites the previous snapshot.
type Snapshot struct {
	Persona     persona.Persona      `json:"persona"`
	ChatHistory map[string][]Message `json:"chat_history"`
	SavedAt     time.Time            `json:"saved_at"`
}

// Store persists snapshots.
type Store interface {
	// Load returns ErrNoSnapshot when nothing has been saved yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// LogName is the snapshot name for a persona: "<name>_persistent" when the
// log survives restarts, otherwise a per-run "<name>_<MMDDHHMMSS>".
func LogName(personaName string, persistent bool, now time.Time) string {
	if persistent {
		return personaName + "_persistent"
	}
	return personaName + "_" + now.Format("0102150405")
}

// OpenStore opens the configured backend under dir.
func OpenStore(backend, dir, name string) (Store, error) {
	switch backend {
	case "", "json":
		return NewJSONStore(filepath.Join(dir, name+".json")), nil
	case "sqlite":
		s, err := NewSQLiteStore(filepath.Join(dir, "memory.db"), name)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// JSONStore keeps the snapshot in a single indented JSON file.
type JSONStore struct {
	path string
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read memory log: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode memory log %s: %w", s.path, err)
	}
	if snap.ChatHistory == nil {
		snap.ChatHistory = map[string][]Message{}
	}
	return &snap, nil
}

// Save writes to a temp file in the same directory and renames it over the
// previous snapshot so a crash never leaves a truncated log.
func (s *JSONStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("encode memory log: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp memory log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write memory log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close memory log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace memory log: %w", err)
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

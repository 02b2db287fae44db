package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

func newTestSession(t *testing.T, store memory.Store) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), SessionOptions{
		Persona:      &persona.Persona{Name: "Aria", Description: "An archivist", UserName: "You"},
		Params:       providers.Params{"max_new_tokens": 200, "temperature": 0.7},
		Counter:      prompt.HeuristicCounter{},
		Store:        store,
		MaxTokens:    2000,
		PlatformName: "AriaBot",
	})
	require.NoError(t, err)
	return s
}

func TestSessionBuildPromptRecordsSelectedMessages(t *testing.T) {
	s := newTestSession(t, nil)
	conv := prompt.Conversation{
		Current: memory.Message{Speaker: "Alice", Text: "how are you?"},
		History: []memory.Message{
			{Speaker: "Alice", Text: "hi"},
			{Speaker: "AriaBot", Text: "hello"},
		},
	}

	res := s.BuildPrompt(conv, "chan-1")
	assert.True(t, strings.HasSuffix(res.Prompt, "\nAria:"))
	assert.Contains(t, res.Prompt, "Aria: hello")
	assert.NotContains(t, res.Prompt, "AriaBot")

	want := []memory.Message{
		{Speaker: "Alice", Text: "hi"},
		{Speaker: "Aria", Text: "hello"},
		{Speaker: "Alice", Text: "how are you?"},
	}
	assert.Equal(t, want, s.Messages("chan-1"))

	s.BuildPrompt(conv, "chan-1")
	assert.Len(t, s.Messages("chan-1"), 3, "replaying the same history must not duplicate entries")
}

func TestSessionRecordReplyPersistsSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := memory.NewJSONStore(filepath.Join(dir, "Aria_persistent.json"))
	s := newTestSession(t, store)

	require.NoError(t, s.RecordReply(context.Background(), "chan-1", "Hello there"))

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Aria", snap.Persona.Name)
	assert.Equal(t, []memory.Message{{Speaker: "Aria", Text: "Hello there"}}, snap.ChatHistory["chan-1"])
}

func TestNewSessionRestoresPreviousLog(t *testing.T) {
	dir := t.TempDir()
	store := memory.NewJSONStore(filepath.Join(dir, "Aria_persistent.json"))
	first := newTestSession(t, store)
	require.NoError(t, first.RecordReply(context.Background(), "chan-1", "remember me"))

	restored, err := NewSession(context.Background(), SessionOptions{
		Persona: &persona.Persona{Name: "Aria"},
		Store:   store,
		Restore: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []memory.Message{{Speaker: "Aria", Text: "remember me"}}, restored.Messages("chan-1"))
	assert.Equal(t, DefaultHistoryLimit, restored.HistoryLimit())
}

func TestNewSessionRestoreWithoutSnapshotStartsFresh(t *testing.T) {
	store := memory.NewJSONStore(filepath.Join(t.TempDir(), "missing.json"))
	s, err := NewSession(context.Background(), SessionOptions{
		Persona: &persona.Persona{Name: "Aria"},
		Store:   store,
		Restore: true,
	})
	require.NoError(t, err)
	assert.Empty(t, s.Messages("chan-1"))
}

func TestNewSessionRequiresPersona(t *testing.T) {
	_, err := NewSession(context.Background(), SessionOptions{})
	assert.Error(t, err)
}

func TestSessionSetHistoryLimit(t *testing.T) {
	s := newTestSession(t, nil)

	require.NoError(t, s.SetHistoryLimit(25))
	assert.Equal(t, 25, s.HistoryLimit())

	for _, bad := range []int{0, -3} {
		err := s.SetHistoryLimit(bad)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	}
	assert.Equal(t, 25, s.HistoryLimit())
}

func TestSessionUpdateParam(t *testing.T) {
	s := newTestSession(t, nil)

	v, err := s.UpdateParam("max_new_tokens", "300")
	require.NoError(t, err)
	assert.Equal(t, 300, v)

	v, err = s.UpdateParam("temperature", "0.9")
	require.NoError(t, err)
	assert.Equal(t, 0.9, v)

	_, err = s.UpdateParam("temperature", "warm")
	assert.ErrorIs(t, err, ErrInvalidParam)
	got, ok := s.Param("temperature")
	require.True(t, ok)
	assert.Equal(t, 0.9, got, "invalid update must leave the value unchanged")

	_, ok = s.Param("top_k")
	assert.False(t, ok)
}

func TestSessionParamsAreCopies(t *testing.T) {
	s := newTestSession(t, nil)
	p := s.Params()
	p["temperature"] = 5
	got, _ := s.Param("temperature")
	assert.Equal(t, 0.7, got)
}

func TestSessionSwitchPersona(t *testing.T) {
	s := newTestSession(t, nil)
	s.BuildPrompt(prompt.Conversation{Current: memory.Message{Speaker: "Alice", Text: "hi"}}, "chan-1")

	path := filepath.Join(t.TempDir(), "nova.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"char_name":"Nova","char_persona":"A starship AI"}`), 0o644))

	p, err := s.SwitchPersona(path)
	require.NoError(t, err)
	assert.Equal(t, "Nova", p.Name)
	assert.Equal(t, "Nova", s.PersonaName())
	assert.Len(t, s.Messages("chan-1"), 1, "switching persona keeps the log")

	res := s.BuildPrompt(prompt.Conversation{Current: memory.Message{Speaker: "Alice", Text: "who are you?"}}, "chan-1")
	assert.True(t, strings.HasPrefix(res.Prompt, "Nova's Persona: A starship AI"))

	_, err = s.SwitchPersona(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
	assert.Equal(t, "Nova", s.PersonaName())
}

func TestSessionPlatformName(t *testing.T) {
	s := newTestSession(t, nil)
	s.SetPlatformName("Other")
	assert.Equal(t, "Other", s.PlatformName())
}

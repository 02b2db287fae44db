package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig_Model(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.MaxContextTokens != 2000 {
		t.Errorf("MaxContextTokens = %d, want 2000", cfg.Model.MaxContextTokens)
	}
	if cfg.Model.HistoryLimit != 10 {
		t.Errorf("HistoryLimit = %d, want 10", cfg.Model.HistoryLimit)
	}
	if cfg.Model.Provider == "" {
		t.Error("Provider should not be empty")
	}
}

func TestDefaultConfig_Persona(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Persona.UserName != "You" {
		t.Errorf("UserName = %q, want %q", cfg.Persona.UserName, "You")
	}
	if cfg.Persona.LogBackend != "json" {
		t.Errorf("LogBackend = %q, want json", cfg.Persona.LogBackend)
	}
	if cfg.Persona.PersistentLogs {
		t.Error("persistent logs should be off by default")
	}
}

func TestDefaultConfig_Discord(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Discord.Token != "" {
		t.Error("Discord token should be empty by default")
	}
	if cfg.Discord.Status == "" {
		t.Error("Discord status should have a default")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestSaveThenLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Persona.Character = "aria"
	cfg.Discord.AllowFrom = FlexibleStringSlice{"123"}
	cfg.Schedules = []ScheduleConfig{{Name: "morning", Cron: "0 9 * * *", ChannelID: "42", Style: "casual", Instruct: "say hi"}}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Persona.Character != "aria" {
		t.Fatalf("character = %q, want aria", loaded.Persona.Character)
	}
	if len(loaded.Schedules) != 1 || loaded.Schedules[0].Cron != "0 9 * * *" {
		t.Fatalf("schedules not round-tripped: %+v", loaded.Schedules)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("DOTPERSONA_PERSONA_CHARACTER", "env-character")
	t.Setenv("DOTPERSONA_MODEL_MAX_CONTEXT_TOKENS", "4096")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Persona.Character; got != "env-character" {
		t.Fatalf("expected env override character, got %q", got)
	}
	if got := cfg.Model.MaxContextTokens; got != 4096 {
		t.Fatalf("expected env override max context tokens, got %d", got)
	}
}

func TestLoadConfig_AllowFromAcceptsNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"discord":{"allow_from":[123456789012345678,"alice"]}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Discord.AllowFrom) != 2 || cfg.Discord.AllowFrom[1] != "alice" {
		t.Fatalf("unexpected allow_from: %v", cfg.Discord.AllowFrom)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(false); err != nil {
		t.Fatalf("default config should validate without discord: %v", err)
	}

	err := cfg.Validate(true)
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	cfg.Discord.Token = "abc"
	cfg.Persona.LogBackend = "redis"
	cfg.Schedules = []ScheduleConfig{{Name: "bad", Cron: "not a cron", ChannelID: "1"}}
	err = cfg.Validate(true)
	if !errors.Is(err, ErrInvalidBackend) {
		t.Fatalf("expected ErrInvalidBackend, got %v", err)
	}
	if !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}
}

func TestResolveCharacterPath(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "aria.yaml")
	if err := os.WriteFile(yamlPath, []byte("char_name: Aria\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if got := ResolveCharacterPath(dir, "aria"); got != yamlPath {
		t.Fatalf("ResolveCharacterPath = %q, want %q", got, yamlPath)
	}
	if got := ResolveCharacterPath(dir, yamlPath); got != yamlPath {
		t.Fatalf("explicit path should be kept, got %q", got)
	}
	if got := ResolveCharacterPath(dir, "missing"); got != filepath.Join(dir, "missing.json") {
		t.Fatalf("missing character should fall back to json, got %q", got)
	}
}

func TestCharacterFileInDirIgnoresWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	cwd := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(cwd); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.WriteFile(filepath.Join(cwd, "stray.json"), []byte(`{"char_name":"Stray"}`), 0600); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "nova.json")
	if err := os.WriteFile(jsonPath, []byte(`{"char_name":"Nova"}`), 0600); err != nil {
		t.Fatal(err)
	}

	if got := CharacterFileInDir(dir, "stray.json"); got != filepath.Join(dir, "stray.json.json") {
		t.Fatalf("working directory file must not be used, got %q", got)
	}
	if got := CharacterFileInDir(dir, "nova.json"); got != jsonPath {
		t.Fatalf("CharacterFileInDir = %q, want %q", got, jsonPath)
	}
	if got := CharacterFileInDir(dir, "nova"); got != jsonPath {
		t.Fatalf("CharacterFileInDir = %q, want %q", got, jsonPath)
	}
}

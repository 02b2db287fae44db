package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Discord   DiscordConfig    `json:"discord"`
	Model     ModelConfig      `json:"model"`
	Persona   PersonaConfig    `json:"persona"`
	Gateway   GatewayConfig    `json:"gateway"`
	Schedules []ScheduleConfig `json:"schedules"`
	mu        sync.RWMutex
}

type DiscordConfig struct {
	Token              string              `json:"token" env:"DOTPERSONA_DISCORD_TOKEN"`
	GuildID            string              `json:"guild_id" env:"DOTPERSONA_DISCORD_GUILD_ID"`
	OwnerID            string              `json:"owner_id" env:"DOTPERSONA_DISCORD_OWNER_ID"`
	RequiredRole       string              `json:"required_role" env:"DOTPERSONA_DISCORD_REQUIRED_ROLE"`
	AllowFrom          FlexibleStringSlice `json:"allow_from" env:"DOTPERSONA_DISCORD_ALLOW_FROM"`
	Status             string              `json:"status" env:"DOTPERSONA_DISCORD_STATUS"`
	RateLimitPerMinute int                 `json:"rate_limit_per_minute" env:"DOTPERSONA_DISCORD_RATE_LIMIT_PER_MINUTE"`
	RateBurst          int                 `json:"rate_burst" env:"DOTPERSONA_DISCORD_RATE_BURST"`
}

type ModelConfig struct {
	Provider         string `json:"provider" env:"DOTPERSONA_MODEL_PROVIDER"`
	APIBase          string `json:"api_base" env:"DOTPERSONA_MODEL_API_BASE"`
	APIKey           string `json:"api_key" env:"DOTPERSONA_MODEL_API_KEY"`
	Model            string `json:"model" env:"DOTPERSONA_MODEL_NAME"`
	MaxContextTokens int    `json:"max_context_tokens" env:"DOTPERSONA_MODEL_MAX_CONTEXT_TOKENS"`
	HistoryLimit     int    `json:"history_limit" env:"DOTPERSONA_MODEL_HISTORY_LIMIT"`
	ParamsPath       string `json:"params_path" env:"DOTPERSONA_MODEL_PARAMS_PATH"`
	// heuristic or remote
	Tokenizer     string  `json:"tokenizer" env:"DOTPERSONA_MODEL_TOKENIZER"`
	CharsPerToken float64 `json:"chars_per_token" env:"DOTPERSONA_MODEL_CHARS_PER_TOKEN"`
}

type PersonaConfig struct {
	Character         string `json:"character" env:"DOTPERSONA_PERSONA_CHARACTER"`
	CharactersDir     string `json:"characters_dir" env:"DOTPERSONA_PERSONA_CHARACTERS_DIR"`
	PermanentDialogue bool   `json:"permanent_dialogue" env:"DOTPERSONA_PERSONA_PERMANENT_DIALOGUE"`
	PersistentLogs    bool   `json:"persistent_logs" env:"DOTPERSONA_PERSONA_PERSISTENT_LOGS"`
	LogDir            string `json:"log_dir" env:"DOTPERSONA_PERSONA_LOG_DIR"`
	LogBackend        string `json:"log_backend" env:"DOTPERSONA_PERSONA_LOG_BACKEND"` // json or sqlite
	UserName          string `json:"user_name" env:"DOTPERSONA_PERSONA_USER_NAME"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled" env:"DOTPERSONA_GATEWAY_ENABLED"`
	Host    string `json:"host" env:"DOTPERSONA_GATEWAY_HOST"`
	Port    int    `json:"port" env:"DOTPERSONA_GATEWAY_PORT"`
}

// ScheduleConfig posts the reply to an instruction prompt into a channel
// whenever the cron expression is due.
type ScheduleConfig struct {
	Name      string `json:"name"`
	Cron      string `json:"cron"`
	ChannelID string `json:"channel_id"`
	Style     string `json:"style"`
	Instruct  string `json:"instruct"`
}

var (
	ErrMissingToken   = errors.New("discord token is not configured")
	ErrInvalidBackend = errors.New("unknown log backend")
	ErrInvalidCron    = errors.New("invalid cron expression")
)

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Token:              "",
			AllowFrom:          FlexibleStringSlice{},
			Status:             "A.I. World Domination",
			RateLimitPerMinute: 6,
			RateBurst:          3,
		},
		Model: ModelConfig{
			Provider:         "textgen",
			APIBase:          "http://127.0.0.1:5000",
			Model:            "local",
			MaxContextTokens: 2000,
			HistoryLimit:     10,
			ParamsPath:       "config/params/default.json",
			Tokenizer:        "heuristic",
			CharsPerToken:    4,
		},
		Persona: PersonaConfig{
			Character:     "default",
			CharactersDir: "characters",
			LogDir:        "~/.dotpersona/logs",
			LogBackend:    "json",
			UserName:      "You",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18791,
		},
		Schedules: []ScheduleConfig{},
	}
}

// DefaultPath is where onboard writes the config and where commands look
// when --config is not given.
func DefaultPath() string {
	return ExpandHome("~/.dotpersona/config.json")
}

// LoadConfig reads the JSON file at path (a missing file yields defaults),
// loads a .env file from the working directory when present, and then
// overlays DOTPERSONA_* environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports configuration errors. The Discord token is only
// required when the gateway is going to be started.
func (c *Config) Validate(requireDiscord bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if requireDiscord && strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	switch c.Persona.LogBackend {
	case "", "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidBackend, c.Persona.LogBackend))
	}
	if c.Model.MaxContextTokens <= 0 {
		errs = append(errs, fmt.Errorf("model.max_context_tokens must be positive, got %d", c.Model.MaxContextTokens))
	}
	if c.Model.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("model.history_limit must be positive, got %d", c.Model.HistoryLimit))
	}
	g := gronx.New()
	for _, s := range c.Schedules {
		if !g.IsValid(s.Cron) {
			errs = append(errs, fmt.Errorf("%w: schedule %q: %q", ErrInvalidCron, s.Name, s.Cron))
		}
		if s.ChannelID == "" {
			errs = append(errs, fmt.Errorf("schedule %q has no channel_id", s.Name))
		}
	}
	return errors.Join(errs...)
}

// LogDirPath returns the expanded memory log directory.
func (c *Config) LogDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Persona.LogDir)
}

// CharactersDirPath returns the expanded characters directory.
func (c *Config) CharactersDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Persona.CharactersDir)
}

// CharacterPath resolves the configured character to a file. A value that
// already names an existing file is used as is; otherwise the characters
// directory is searched for <name>.json, <name>.yaml and <name>.yml.
func (c *Config) CharacterPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ResolveCharacterPath(ExpandHome(c.Persona.CharactersDir), c.Persona.Character)
}

func ResolveCharacterPath(dir, character string) string {
	character = ExpandHome(character)
	if info, err := os.Stat(character); err == nil && !info.IsDir() {
		return character
	}
	return CharacterFileInDir(dir, character)
}

var characterExts = []string{".json", ".yaml", ".yml"}

// CharacterFileInDir looks name up inside dir only, never relative to the
// working directory. A name carrying a card extension is used as is.
func CharacterFileInDir(dir, name string) string {
	if slices.Contains(characterExts, strings.ToLower(filepath.Ext(name))) {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	for _, ext := range characterExts {
		candidate := filepath.Join(dir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dir, name+".json")
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimRight(c.Model.APIBase, "/")
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Model.APIKey
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

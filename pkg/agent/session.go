package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

var (
	ErrInvalidParam = errors.New("invalid parameter")
	ErrInvalidLimit = errors.New("history limit must be positive")
)

const DefaultHistoryLimit = 10

// SessionOptions configures a Session.
type SessionOptions struct {
	Persona   *persona.Persona
	Params    providers.Params
	Counter   prompt.TokenCounter
	Store     memory.Store
	MaxTokens int
	// HistoryLimit is how many recent platform messages a handler fetches.
	HistoryLimit int
	// PlatformName is the bot's account name on the chat platform; history
	// lines under it are rewritten to the persona name.
	PlatformName string
	// Restore loads the previous snapshot from Store before serving.
	Restore bool
}

// Session is the chatbot state shared by every platform handler and the
// inference worker. All persona and log mutation goes through its mutex.
type Session struct {
	mu           sync.Mutex
	persona      *persona.Persona
	log          *memory.Log
	params       providers.Params
	counter      prompt.TokenCounter
	maxTokens    int
	historyLimit int
	platformName string

	saveMu sync.Mutex
	store  memory.Store
}

func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if opts.Persona == nil {
		return nil, fmt.Errorf("session requires a persona")
	}
	if opts.Counter == nil {
		opts.Counter = prompt.HeuristicCounter{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Params == nil {
		opts.Params = providers.Params{}
	}

	s := &Session{
		persona:      opts.Persona,
		log:          memory.NewLog(),
		params:       opts.Params.Clone(),
		counter:      opts.Counter,
		maxTokens:    opts.MaxTokens,
		historyLimit: opts.HistoryLimit,
		platformName: opts.PlatformName,
		store:        opts.Store,
	}

	if opts.Restore && opts.Store != nil {
		snap, err := opts.Store.Load(ctx)
		switch {
		case errors.Is(err, memory.ErrNoSnapshot):
			logger.DebugC("session", "No previous memory log, starting fresh")
		case err != nil:
			return nil, fmt.Errorf("restore memory log: %w", err)
		default:
			s.log = memory.RestoreLog(snap.ChatHistory)
			logger.InfoCF("session", "Restored memory log", map[string]any{
				"locations": len(snap.ChatHistory),
				"saved_at":  snap.SavedAt.Format(time.RFC3339),
			})
		}
	}
	return s, nil
}

// BuildPrompt assembles the prompt for conv and replays the selected
// messages into the log under location.
func (s *Session) BuildPrompt(conv prompt.Conversation, location string) prompt.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := prompt.Build(prompt.Input{
		Persona:      s.persona,
		PlatformName: s.platformName,
		Conversation: conv,
		Counter:      s.counter,
		MaxTokens:    s.maxTokens,
		Recorder:     s.log,
		Location:     location,
	})
	if res.Allocation.OverBudget {
		logger.DebugCF("session", "Reserved messages exceed the history budget", map[string]any{
			"budget":   res.Allocation.Budget,
			"consumed": res.Allocation.Consumed,
			"location": location,
		})
	}
	return res
}

// RecordReply appends the bot's reply to the log and persists the snapshot.
func (s *Session) RecordReply(ctx context.Context, location, text string) error {
	s.mu.Lock()
	s.log.Record(location, []memory.Message{{Speaker: s.persona.Name, Text: text}})
	s.mu.Unlock()
	return s.Save(ctx)
}

// Save writes the whole snapshot to the store, replacing the previous one.
func (s *Session) Save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.store.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save memory log: %w", err)
	}
	return nil
}

func (s *Session) Snapshot() *memory.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memory.Snapshot{
		Persona:     *s.persona,
		ChatHistory: s.log.History(),
		SavedAt:     time.Now().UTC(),
	}
}

func (s *Session) Messages(location string) []memory.Message {
	return s.log.Messages(location)
}

func (s *Session) HistoryLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLimit
}

func (s *Session) SetHistoryLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	s.mu.Lock()
	s.historyLimit = limit
	s.mu.Unlock()
	return nil
}

// Params returns a copy of the generation parameters for one request.
func (s *Session) Params() providers.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Clone()
}

func (s *Session) Param(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[name]
	return v, ok
}

// UpdateParam sets a numeric generation parameter. Values parse as int
// first, then float; anything else leaves the parameters unchanged.
func (s *Session) UpdateParam(name, raw string) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidParam)
	}
	v, err := providers.ParseParamValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidParam, name, err)
	}
	s.mu.Lock()
	s.params[name] = v
	s.mu.Unlock()
	logger.InfoCF("session", "Parameter updated", map[string]any{"param": name, "value": v})
	return v, nil
}

func (s *Session) Persona() persona.Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.persona
}

func (s *Session) PersonaName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona.Name
}

// SwitchPersona loads the card at path and makes it active. The memory log,
// the dialogue pinning and the configured user name are kept.
func (s *Session) SwitchPersona(path string) (*persona.Persona, error) {
	p, err := persona.Load(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	prev := s.persona.Name
	p.PinExampleDialogue = s.persona.PinExampleDialogue
	if s.persona.UserName != "" {
		p.UserName = s.persona.UserName
	}
	s.persona = p
	s.mu.Unlock()
	logger.InfoCF("session", "Persona switched", map[string]any{"from": prev, "to": p.Name})
	return p, nil
}

func (s *Session) PlatformName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platformName
}

func (s *Session) SetPlatformName(name string) {
	s.mu.Lock()
	s.platformName = name
	s.mu.Unlock()
}

func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

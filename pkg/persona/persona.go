// Package persona loads character cards and renders the fixed framing text
// that opens every prompt.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultName     = "ChatBot"
	DefaultUserName = "You"

	startMarker = "<START>"
)

var ErrEmptyCard = errors.New("character card is empty")

// Persona is the configured character. Description and Scenario are always
// part of the prompt; ExampleDialogue and Greeting are dropped first when the
// budget is tight unless PinExampleDialogue is set.
type Persona struct {
	Name               string `json:"char_name"`
	Description        string `json:"char_persona,omitempty"`
	Scenario           string `json:"world_scenario,omitempty"`
	ExampleDialogue    string `json:"example_dialogue,omitempty"`
	Greeting           string `json:"char_greeting,omitempty"`
	UserName           string `json:"user_name"`
	PinExampleDialogue bool   `json:"permanent_dialogue_context"`
}

// Field aliases, first non-empty wins.
var (
	nameKeys        = []string{"char_name", "name"}
	descriptionKeys = []string{"char_persona", "description"}
	scenarioKeys    = []string{"world_scenario", "scenario"}
	dialogueKeys    = []string{"example_dialogue", "mes_example"}
	greetingKeys    = []string{"char_greeting", "first_mes"}
)

// Load reads a character card from a JSON or YAML file, chosen by extension.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character %s: %w", path, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("character %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a character card. Values are trimmed; example_dialogue may be
// a string or a list of lines.
func Parse(data []byte, format string) (*Persona, error) {
	raw := map[string]any{}
	var err error
	switch format {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s card: %w", format, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyCard
	}

	p := &Persona{
		Name:            firstValue(raw, nameKeys),
		Description:     firstValue(raw, descriptionKeys),
		Scenario:        firstValue(raw, scenarioKeys),
		ExampleDialogue: firstValue(raw, dialogueKeys),
		Greeting:        firstValue(raw, greetingKeys),
		UserName:        DefaultUserName,
	}
	if p.Name == "" {
		p.Name = DefaultName
	}
	return p, nil
}

func firstValue(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if v := stringValue(raw[k]); v != "" {
			return v
		}
	}
	return ""
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringValue(item); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// ReplaceNameTokens substitutes the {{user}}/<USER> and {{char}}/<BOT>
// placeholders.
func (p *Persona) ReplaceNameTokens(text string) string {
	user := p.UserName
	if user == "" {
		user = DefaultUserName
	}
	r := strings.NewReplacer(
		"{{user}}", user,
		"<USER>", user,
		"{{char}}", p.Name,
		"<BOT>", p.Name,
	)
	return r.Replace(text)
}

// PermanentBlock renders the framing that is never dropped: persona and
// scenario lines, the start marker, and the example dialogue when pinned.
func (p *Persona) PermanentBlock() string {
	var b strings.Builder
	if p.Description != "" {
		fmt.Fprintf(&b, "%s's Persona: %s\n", p.Name, p.Description)
	}
	if p.Scenario != "" {
		fmt.Fprintf(&b, "Scenario: %s\n", p.Scenario)
	}
	b.WriteString("\n" + startMarker + "\n")
	if p.PinExampleDialogue && p.ExampleDialogue != "" {
		b.WriteString(p.ExampleDialogue)
	}
	return p.ReplaceNameTokens(b.String())
}

// RenderExampleDialogue returns the example dialogue with names substituted.
func (p *Persona) RenderExampleDialogue() string {
	if p.ExampleDialogue == "" {
		return ""
	}
	return p.ReplaceNameTokens(p.ExampleDialogue)
}

// RenderGreeting returns the greeting as a chat line spoken by the persona.
func (p *Persona) RenderGreeting() string {
	if p.Greeting == "" {
		return ""
	}
	g := p.ReplaceNameTokens(p.Greeting)
	if !strings.HasPrefix(g, p.Name) {
		g = p.Name + ": " + g
	}
	return g
}

// DroppableFragments lists the framing fragments in the order they compete
// for leftover budget.
func (p *Persona) DroppableFragments() []string {
	frags := []string{p.RenderGreeting()}
	if !p.PinExampleDialogue {
		frags = append(frags, p.RenderExampleDialogue())
	}
	return frags
}

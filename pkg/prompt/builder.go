package prompt

import (
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
)

// Recorder receives the messages that made it into a prompt.
type Recorder interface {
	Record(location string, msgs []memory.Message) int
}

// Conversation is what the platform supplies for one prompt.
type Conversation struct {
	Current memory.Message
	// Referenced is the message the current one replies to, if any.
	Referenced *memory.Message
	// History is ordered newest-last.
	History []memory.Message
}

// Input collects everything Build needs.
type Input struct {
	Persona      *persona.Persona
	PlatformName string
	Conversation Conversation
	Counter      TokenCounter
	MaxTokens    int
	// Recorder and Location are optional; when both are set the selected
	// messages are replayed into the memory log.
	Recorder Recorder
	Location string
}

type Result struct {
	Prompt          string
	Permanent       string
	PermanentTokens int
	Framing         string
	Allocation      Allocation
}

// Build assembles the completion prompt: permanent persona block, selected
// history, leftover framing, then the persona's name as the speaker cue.
func Build(in Input) Result {
	p := in.Persona
	names := NameMap{Platform: in.PlatformName, Persona: p.Name}

	permanent := names.ReplaceText(p.PermanentBlock())
	permanentTokens := in.Counter.CountTokens(permanent)
	budget := in.MaxTokens - permanentTokens
	if budget < 0 {
		budget = 0
	}

	conv := in.Conversation
	alloc := AllocateHistory(in.Counter, names, conv.Current, conv.Referenced, conv.History, budget)

	if in.Recorder != nil && in.Location != "" {
		in.Recorder.Record(in.Location, alloc.Messages)
	}

	fragments := p.DroppableFragments()
	for i := range fragments {
		fragments[i] = names.ReplaceText(fragments[i])
	}
	framing := AllocateFraming(in.Counter, fragments, alloc.Remaining)

	var b strings.Builder
	b.WriteString(permanent)
	b.WriteString("\n")
	b.WriteString(RenderHistory(alloc.Messages))
	b.WriteString("\n")
	b.WriteString(framing)
	b.WriteString("\n")
	b.WriteString(p.Name)
	b.WriteString(":")

	return Result{
		Prompt:          b.String(),
		Permanent:       permanent,
		PermanentTokens: permanentTokens,
		Framing:         framing,
		Allocation:      alloc,
	}
}

// RenderHistory renders messages as "speaker: text" lines.
func RenderHistory(msgs []memory.Message) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.String()
	}
	return strings.Join(lines, "\n")
}

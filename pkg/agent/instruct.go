package agent

import (
	"strings"
)

// Instruction styles used by the built-in slash commands.
const (
	StyleCasual       = "casual"
	StyleStoryteller  = "storyteller"
	StyleExpert       = "sme"
	StyleProfessional = "professional"
)

var instructStyles = map[string]string{
	StyleCasual:       "You are a friendly, casual conversationalist. Keep answers short, playful and easy to read.",
	StyleStoryteller:  "You are a gifted storyteller. Answer with vivid, evocative language.",
	StyleExpert:       "You are a subject matter expert. Answer accurately and concisely, stating facts plainly.",
	StyleProfessional: "You are a professional assistant. Answer clearly and precisely in a neutral tone.",
}

// BuildInstructPrompt renders a one-shot instruction prompt in Alpaca format.
// Unknown styles are used verbatim as the persona description.
func BuildInstructPrompt(style, instruct string) string {
	style = strings.TrimSpace(style)
	desc, ok := instructStyles[strings.ToLower(style)]
	if !ok {
		desc = style
	}

	var b strings.Builder
	if desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}
	b.WriteString("### Instruction:\n")
	b.WriteString(strings.TrimSpace(instruct))
	b.WriteString("\n\n### Response:\n")
	return b.String()
}

// Built-in instruction commands.
func TriviaInstruct() string { return "Create a trivia question" }

func ConversationStarterInstruct(topic string) string {
	return "Create a conversation starter about " + topic
}

func InspirationalQuoteInstruct() string { return "Create an inspirational quote" }

func RandomFactInstruct() string { return "Create a random fact" }

func RhymeInstruct(word string) string {
	return "Generate a list of words that rhyme with " + word
}

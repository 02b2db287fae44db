package prompt

import (
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/memory"
)

// NameMap rewrites the bot's platform identity (its Discord username) to the
// persona name so the model never sees two names for itself.
type NameMap struct {
	Platform string
	Persona  string
}

// active reports whether rewriting is configured and safe. When the persona
// name contains the platform name, replacing would grow the persona name on
// every pass ("Bo" -> "Bot" turns "Bot" into "Bott"), so it is skipped.
func (n NameMap) active() bool {
	if n.Platform == "" || n.Persona == "" || n.Platform == n.Persona {
		return false
	}
	return !strings.Contains(n.Persona, n.Platform)
}

func (n NameMap) ReplaceText(text string) string {
	if !n.active() {
		return text
	}
	return strings.ReplaceAll(text, n.Platform, n.Persona)
}

func (n NameMap) Apply(m memory.Message) memory.Message {
	return memory.Message{
		Speaker: n.ReplaceText(m.Speaker),
		Text:    n.ReplaceText(m.Text),
	}
}

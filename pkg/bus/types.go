package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TriggerKind says what caused a request, which decides how its reply is shaped.
type TriggerKind int

const (
	// TriggerDirectMessage is a chat message that mentioned the bot or was sent in a DM.
	TriggerDirectMessage TriggerKind = iota
	// TriggerCommand is a slash command answered with a follow-up.
	TriggerCommand
	// TriggerScheduled is a cron-driven post into a channel.
	TriggerScheduled
	// TriggerConsole is the local terminal session.
	TriggerConsole
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerDirectMessage:
		return "message"
	case TriggerCommand:
		return "command"
	case TriggerScheduled:
		return "scheduled"
	case TriggerConsole:
		return "console"
	default:
		return "unknown"
	}
}

// Reply is what the worker hands back to the originating platform event.
type Reply struct {
	Text string
	// Instruct is the instruction text for instruction prompts, shown
	// alongside the reply. Empty for conversational replies.
	Instruct string
}

// Trigger is the originating event of a request. Each platform variant
// knows how to deliver a reply to where the request came from.
type Trigger interface {
	Kind() TriggerKind
	ChannelID() string
	Deliver(ctx context.Context, reply Reply) error
}

// FallbackNotifier is implemented by triggers that can post a short notice
// when the normal delivery fails for lack of permissions.
type FallbackNotifier interface {
	NotifyFailure(ctx context.Context, text string) error
}

// TypingIndicator is implemented by triggers that can show a typing
// indicator while the model is generating. The returned stop func ends it
// and is safe to call more than once.
type TypingIndicator interface {
	Typing(ctx context.Context) (stop func(), err error)
}

// Request is one unit of work for the inference worker.
type Request struct {
	ID      string
	Trigger Trigger
	Prompt  string
	// Instruct is set for instruction prompts; such replies are not
	// recorded into the memory log.
	Instruct string
	// Location keys the memory log entry for the reply. Empty skips recording.
	Location   string
	EnqueuedAt time.Time
}

func NewRequest(trigger Trigger, prompt, instruct, location string) Request {
	return Request{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		Prompt:     prompt,
		Instruct:   instruct,
		Location:   location,
		EnqueuedAt: time.Now(),
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

// consoleTrigger prints replies to the terminal.
type consoleTrigger struct {
	out     io.Writer
	speaker string
}

func (c *consoleTrigger) Kind() bus.TriggerKind { return bus.TriggerConsole }
func (c *consoleTrigger) ChannelID() string { return "console" }

func (c *consoleTrigger) Deliver(_ context.Context, reply bus.Reply) error {
	_, err := fmt.Fprintf(c.out, "\n%s: %s\n\n", c.speaker, reply.Text)
	return err
}

func consoleLocation(session string) string {
	session = strings.TrimSpace(session)
	if session == "" {
		session = "default"
	}
	return "console:" + session
}

// console runs a local conversation against the same session and worker
// code the Discord gateway uses. The session's memory log under location
// stands in for the channel history.
type console struct {
	session  *agent.Session
	worker   *agent.Worker
	location string
	out      io.Writer
}

func newConsole(session *agent.Session, provider providers.InferenceProvider, location string, out io.Writer) *console {
	return &console{
		session:  session,
		worker:   agent.NewWorker(bus.NewWorkQueue(1), provider, session),
		location: location,
		out:      out,
	}
}

// send builds the prompt for one user line and delivers the reply.
func (c *console) send(ctx context.Context, text string) error {
	p := c.session.Persona()
	current := memory.Message{Speaker: p.UserName, Text: text}
	res := c.session.BuildPrompt(prompt.Conversation{
		Current: current,
		History: c.session.Messages(c.location),
	}, c.location)

	trig := &consoleTrigger{out: c.out, speaker: p.Name}
	return c.worker.Process(ctx, bus.NewRequest(trig, res.Prompt, "", c.location))
}

func (c *console) interactive(ctx context.Context) {
	name := c.session.PersonaName()
	fmt.Fprintf(c.out, "%s Chatting with %s (Ctrl+C to exit)\n\n", appName, name)
	p := c.session.Persona()
	if g := p.RenderGreeting(); g != "" {
		fmt.Fprintf(c.out, "%s\n\n", g)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".dotpersona_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(c.out, "Falling back to simple input mode...")
		c.simple(ctx, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(c.out, "Error reading input: %v\n", err)
			continue
		}
		if !c.handleLine(ctx, line) {
			return
		}
	}
}

func (c *console) simple(ctx context.Context, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(c.out, "You: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(c.out, "Error reading input: %v\n", err)
			continue
		}
		if !c.handleLine(ctx, line) {
			return
		}
	}
}

// handleLine returns false when the user asked to leave.
func (c *console) handleLine(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	switch input {
	case "":
		return true
	case "exit", "quit":
		fmt.Fprintln(c.out, "Goodbye!")
		return false
	}
	if err := c.send(ctx, input); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return true
}

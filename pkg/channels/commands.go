package channels

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

const purgeLimit = 100

type commandAccess int

const (
	accessAnyone commandAccess = iota
	accessRole
	accessOwner
)

type slashCommand struct {
	def     *discordgo.ApplicationCommand
	access  commandAccess
	handler func(c *DiscordChannel, ctx context.Context, i *discordgo.Interaction)
}

func stringOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{
			def:     &discordgo.ApplicationCommand{Name: "sync", Description: "Owner only"},
			access:  accessOwner,
			handler: (*DiscordChannel).cmdSync,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "purge_channel", Description: "Delete messages in the current channel"},
			access:  accessRole,
			handler: (*DiscordChannel).cmdPurgeChannel,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "reset_channel", Description: "Delete and remake current channel"},
			access:  accessRole,
			handler: (*DiscordChannel).cmdResetChannel,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "setlimit",
				Description: "Set maximum messages in history",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "limit",
					Description: "Number of recent messages to read",
					Required:    true,
				}},
			},
			access:  accessRole,
			handler: (*DiscordChannel).cmdSetLimit,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "updateparam",
				Description: "Set response generation parameters",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("param", "Parameter name"),
					stringOption("value", "Numeric value"),
				},
			},
			access:  accessRole,
			handler: (*DiscordChannel).cmdUpdateParam,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "printparam",
				Description: "Print current params",
				Options:     []*discordgo.ApplicationCommandOption{stringOption("param", "Parameter name")},
			},
			access:  accessRole,
			handler: (*DiscordChannel).cmdPrintParam,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "updatecharacter",
				Description: "Change character persona json reference",
				Options:     []*discordgo.ApplicationCommandOption{stringOption("character", "Character file name")},
			},
			access:  accessRole,
			handler: (*DiscordChannel).cmdUpdateCharacter,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "trivia", Description: "Generate a trivia question"},
			handler: instructCommand(agent.StyleCasual, func(map[string]string) string { return agent.TriviaInstruct() }),
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "conversation_starter",
				Description: "Generate a conversation starter",
				Options:     []*discordgo.ApplicationCommandOption{stringOption("topic", "Topic to talk about")},
			},
			handler: instructCommand(agent.StyleCasual, func(o map[string]string) string { return agent.ConversationStarterInstruct(o["topic"]) }),
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "inspirational_quote", Description: "Generate an inspirational quote"},
			handler: instructCommand(agent.StyleStoryteller, func(map[string]string) string { return agent.InspirationalQuoteInstruct() }),
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "random_fact", Description: "Generate a random fact"},
			handler: instructCommand(agent.StyleExpert, func(map[string]string) string { return agent.RandomFactInstruct() }),
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "rhyme",
				Description: "Generate words that rhyme",
				Options:     []*discordgo.ApplicationCommandOption{stringOption("word", "Word to rhyme with")},
			},
			handler: instructCommand(agent.StyleProfessional, func(o map[string]string) string { return agent.RhymeInstruct(o["word"]) }),
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "instruct",
				Description: "Provide persona and instruction",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("persona", "Style or description to answer in"),
					stringOption("instruct", "Instruction"),
				},
			},
			handler: func(c *DiscordChannel, ctx context.Context, i *discordgo.Interaction) {
				opts := commandOptions(i)
				c.queueInstruct(ctx, i, opts["persona"], opts["instruct"])
			},
		},
	}
}

func findCommand(name string) (slashCommand, bool) {
	for _, cmd := range slashCommands {
		if cmd.def.Name == name {
			return cmd, true
		}
	}
	return slashCommand{}, false
}

func applicationCommands() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, len(slashCommands))
	for i, cmd := range slashCommands {
		defs[i] = cmd.def
	}
	return defs
}

func (c *DiscordChannel) applicationID() string {
	id, _ := c.appID.Load().(string)
	return id
}

// registerCommands overwrites the command set on the configured guild, or
// globally when no guild is configured.
func (c *DiscordChannel) registerCommands() error {
	appID := c.applicationID()
	if appID == "" {
		return fmt.Errorf("application id unknown before ready")
	}
	created, err := c.session.ApplicationCommandBulkOverwrite(appID, c.config.GuildID, applicationCommands())
	if err != nil {
		return err
	}
	logger.InfoCF("discord", "Slash commands registered", map[string]any{
		"count":    len(created),
		"guild_id": c.config.GuildID,
	})
	return nil
}

func (c *DiscordChannel) handleInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil {
		return
	}
	c.processInteraction(context.Background(), ic.Interaction)
}

func (c *DiscordChannel) processInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	cmd, ok := findCommand(data.Name)
	if !ok {
		c.respond(i, "Unknown command.", true)
		return
	}

	user := interactionUser(i)
	fields := map[string]any{"command": data.Name}
	if user != nil {
		fields["user_id"] = user.ID
	}
	logger.InfoCF("discord", "Slash command received", fields)

	switch cmd.access {
	case accessOwner:
		if user == nil || c.config.OwnerID == "" || user.ID != c.config.OwnerID {
			c.respond(i, "You must be the owner to use this command!", true)
			return
		}
	case accessRole:
		if !c.hasRequiredRole(i) {
			c.respond(i, fmt.Sprintf("You need the %s role to use this command.", c.config.RequiredRole), true)
			return
		}
	}
	cmd.handler(c, ctx, i)
}

// hasRequiredRole checks the invoking member for the configured role name.
// With no role configured every member qualifies.
func (c *DiscordChannel) hasRequiredRole(i *discordgo.Interaction) bool {
	if c.config.RequiredRole == "" {
		return true
	}
	if i.Member == nil || i.GuildID == "" {
		return false
	}
	roles, err := c.session.GuildRoles(i.GuildID)
	if err != nil {
		logger.WarnCF("discord", "Failed to fetch guild roles", map[string]any{"error": err.Error()})
		return false
	}
	for _, r := range roles {
		if r.Name == c.config.RequiredRole && slices.Contains(i.Member.Roles, r.ID) {
			return true
		}
	}
	return false
}

func commandOptions(i *discordgo.Interaction) map[string]string {
	out := map[string]string{}
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Type {
		case discordgo.ApplicationCommandOptionInteger:
			out[o.Name] = fmt.Sprintf("%d", o.IntValue())
		case discordgo.ApplicationCommandOptionString:
			out[o.Name] = strings.TrimSpace(o.StringValue())
		}
	}
	return out
}

func (c *DiscordChannel) respond(i *discordgo.Interaction, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := c.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		logger.WarnCF("discord", "Failed to respond to interaction", map[string]any{"error": err.Error()})
	}
}

func (c *DiscordChannel) cmdSync(_ context.Context, i *discordgo.Interaction) {
	if err := c.registerCommands(); err != nil {
		c.respond(i, "Command sync failed: "+err.Error(), true)
		return
	}
	c.respond(i, "Command tree synced", true)
}

func (c *DiscordChannel) cmdPurgeChannel(_ context.Context, i *discordgo.Interaction) {
	msgs, err := c.session.ChannelMessages(i.ChannelID, purgeLimit, "", "", "")
	if err != nil {
		c.respond(i, "Could not read channel messages: "+err.Error(), true)
		return
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := c.session.ChannelMessagesBulkDelete(i.ChannelID, ids); err != nil {
		c.respond(i, "Could not delete messages: "+err.Error(), true)
		return
	}
	c.respond(i, fmt.Sprintf("Deleted %d message(s).", len(ids)), false)
}

func (c *DiscordChannel) cmdResetChannel(_ context.Context, i *discordgo.Interaction) {
	old, err := c.session.Channel(i.ChannelID)
	if err != nil {
		c.respond(i, "Could not read channel: "+err.Error(), true)
		return
	}
	c.respond(i, fmt.Sprintf("Resetting #%s", old.Name), true)

	if _, err := c.session.ChannelDelete(old.ID); err != nil {
		logger.ErrorCF("discord", "Failed to delete channel", map[string]any{"channel_id": old.ID, "error": err.Error()})
		return
	}
	created, err := c.session.GuildChannelCreateComplex(old.GuildID, discordgo.GuildChannelCreateData{
		Name:     old.Name,
		Type:     old.Type,
		Topic:    old.Topic,
		ParentID: old.ParentID,
		Position: old.Position,
		NSFW:     old.NSFW,
	})
	if err != nil {
		logger.ErrorCF("discord", "Failed to recreate channel", map[string]any{"name": old.Name, "error": err.Error()})
		return
	}
	logger.InfoCF("discord", "Channel reset", map[string]any{"name": created.Name, "old_id": old.ID, "new_id": created.ID})
}

func (c *DiscordChannel) cmdSetLimit(_ context.Context, i *discordgo.Interaction) {
	var limit int64
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "limit" {
			limit = o.IntValue()
		}
	}
	if err := c.chat.SetHistoryLimit(int(limit)); err != nil {
		c.respond(i, "History limit must be a positive number.", true)
		return
	}
	c.respond(i, fmt.Sprintf("Message history limit set to %d", limit), false)
}

func (c *DiscordChannel) cmdUpdateParam(_ context.Context, i *discordgo.Interaction) {
	opts := commandOptions(i)
	param := opts["param"]
	v, err := c.chat.UpdateParam(param, opts["value"])
	if err != nil {
		c.respond(i, "Invalid value for parameter "+param, true)
		return
	}
	c.respond(i, fmt.Sprintf("Parameter %s updated to: %v", param, v), true)
}

func (c *DiscordChannel) cmdPrintParam(_ context.Context, i *discordgo.Interaction) {
	param := commandOptions(i)["param"]
	v, ok := c.chat.Param(param)
	if !ok {
		c.respond(i, fmt.Sprintf("Parameter %s is not set", param), true)
		return
	}
	c.respond(i, fmt.Sprintf("Current %s: %v", param, v), true)
}

func (c *DiscordChannel) cmdUpdateCharacter(_ context.Context, i *discordgo.Interaction) {
	name := commandOptions(i)["character"]
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		c.respond(i, "Invalid character name.", true)
		return
	}
	p, err := c.chat.SwitchPersona(config.CharacterFileInDir(c.charactersDir, name))
	if err != nil {
		c.respond(i, fmt.Sprintf("Could not load character %s: %v", name, err), true)
		return
	}
	c.syncNickname()
	c.respond(i, fmt.Sprintf("Character swapped to %s (%s)", name, p.Name), true)
}

func instructCommand(style string, build func(opts map[string]string) string) func(*DiscordChannel, context.Context, *discordgo.Interaction) {
	return func(c *DiscordChannel, ctx context.Context, i *discordgo.Interaction) {
		c.queueInstruct(ctx, i, style, build(commandOptions(i)))
	}
}

// queueInstruct defers the interaction and queues an instruction prompt; the
// worker answers with a follow-up.
func (c *DiscordChannel) queueInstruct(ctx context.Context, i *discordgo.Interaction, style, instruct string) {
	err := c.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		logger.WarnCF("discord", "Failed to defer interaction", map[string]any{"error": err.Error()})
		return
	}
	req := bus.NewRequest(&interactionTrigger{ch: c, interaction: i}, agent.BuildInstructPrompt(style, instruct), instruct, "")
	_ = c.Enqueue(ctx, req)
}

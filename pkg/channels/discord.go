package channels

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
)

const discordIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers

type DiscordChannel struct {
	*BaseChannel
	session       discordSession
	config        config.DiscordConfig
	charactersDir string
	chat          *agent.Session

	botUser atomic.Pointer[discordgo.User]
	appID   atomic.Value

	typing   map[string]*typingSession
	typingMu sync.Mutex

	removeHandlers []func()
}

func NewDiscordChannel(cfg *config.Config, queue *bus.WorkQueue, chat *agent.Session) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordIntents
	routeDiscordgoLogs()

	return newDiscordChannel(session, cfg, queue, chat), nil
}

func newDiscordChannel(session discordSession, cfg *config.Config, queue *bus.WorkQueue, chat *agent.Session) *DiscordChannel {
	dc := cfg.Discord
	base := NewBaseChannel("discord", queue, dc.AllowFrom, dc.RateLimitPerMinute, dc.RateBurst)
	return &DiscordChannel{
		BaseChannel:   base,
		session:       session,
		config:        dc,
		charactersDir: cfg.CharactersDirPath(),
		chat:          chat,
		typing:        make(map[string]*typingSession),
	}
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.removeHandlers = append(c.removeHandlers,
		c.session.AddHandler(c.handleReady),
		c.session.AddHandler(c.handleMessage),
		c.session.AddHandler(c.handleInteraction),
	)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()
	for _, remove := range c.removeHandlers {
		remove()
	}
	c.removeHandlers = nil

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// PostTrigger returns a trigger that posts replies into channelID.
func (c *DiscordChannel) PostTrigger(channelID string) bus.Trigger {
	return &channelPostTrigger{ch: c, channelID: channelID}
}

func (c *DiscordChannel) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.onReady(r)
}

func (c *DiscordChannel) onReady(r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	c.botUser.Store(r.User)
	appID := r.User.ID
	if r.Application != nil && r.Application.ID != "" {
		appID = r.Application.ID
	}
	c.appID.Store(appID)
	c.chat.SetPlatformName(r.User.Username)

	if c.config.Status != "" {
		if err := c.session.UpdateGameStatus(0, c.config.Status); err != nil {
			logger.WarnCF("discord", "Failed to set presence", map[string]any{"error": err.Error()})
		}
	}
	c.syncNickname()

	if err := c.registerCommands(); err != nil {
		logger.ErrorCF("discord", "Failed to register slash commands", map[string]any{"error": err.Error()})
	}

	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": r.User.Username,
		"user_id":  r.User.ID,
		"nickname": c.chat.PersonaName(),
	})
}

// syncNickname sets the bot's nickname in the configured guild to the
// active persona name.
func (c *DiscordChannel) syncNickname() {
	if c.config.GuildID == "" {
		return
	}
	if err := c.session.GuildMemberNickname(c.config.GuildID, "@me", c.chat.PersonaName()); err != nil {
		logger.WarnCF("discord", "Failed to update nickname", map[string]any{
			"guild_id": c.config.GuildID,
			"error":    err.Error(),
		})
	}
}

func (c *DiscordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	c.processMessage(context.Background(), m.Message)
}

// shouldRespond applies the trigger policy: never answer ourselves, answer
// every direct message and any guild message that mentions the bot.
func shouldRespond(m *discordgo.Message, botID string) bool {
	if m.Author == nil || m.Author.ID == botID {
		return false
	}
	if m.GuildID == "" {
		return true
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	return false
}

func (c *DiscordChannel) processMessage(ctx context.Context, m *discordgo.Message) {
	bot := c.botUser.Load()
	if bot == nil || !shouldRespond(m, bot.ID) {
		return
	}

	if !c.IsAllowed(m.Author.ID + "|" + m.Author.Username) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}
	if !c.AllowRate(m.Author.ID) {
		logger.InfoCF("discord", "Message dropped by rate limit", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}

	names := speakerNames{}
	names.learn(m)
	ref := c.referencedMessage(m)
	names.learn(ref)

	skip := []string{m.ID}
	conv := prompt.Conversation{
		Current: names.clean(m),
	}
	if ref != nil && ref.Author != nil {
		cm := names.clean(ref)
		conv.Referenced = &cm
		skip = append(skip, ref.ID)
	}
	conv.History = c.fetchHistory(m.ChannelID, names, skip...)
	res := c.chat.BuildPrompt(conv, m.ChannelID)

	logger.DebugCF("discord", "Prompt generated", map[string]any{
		"channel_id": m.ChannelID,
		"history":    len(res.Allocation.History),
		"truncated":  res.Allocation.Truncated,
		"remaining":  res.Allocation.Remaining,
	})

	req := bus.NewRequest(&messageTrigger{ch: c, msg: m}, res.Prompt, "", m.ChannelID)
	_ = c.Enqueue(ctx, req)
}

// fetchHistory returns the last history-limit messages of the channel,
// oldest first. Messages whose ID is in skip are left out; the triggering
// and referenced messages are reserved separately by prompt assembly.
func (c *DiscordChannel) fetchHistory(channelID string, names speakerNames, skip ...string) []memory.Message {
	msgs, err := c.session.ChannelMessages(channelID, c.chat.HistoryLimit(), "", "", "")
	if err != nil {
		logger.WarnCF("discord", "Failed to fetch channel history", map[string]any{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		return nil
	}

	out := make([]memory.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] == nil || msgs[i].Author == nil {
			continue
		}
		if msgs[i].ID != "" && slices.Contains(skip, msgs[i].ID) {
			continue
		}
		cm := names.clean(msgs[i])
		if cm.Text == "" {
			continue
		}
		out = append(out, cm)
	}
	return out
}

func (c *DiscordChannel) referencedMessage(m *discordgo.Message) *discordgo.Message {
	if m.ReferencedMessage != nil {
		return m.ReferencedMessage
	}
	if m.MessageReference == nil || m.MessageReference.MessageID == "" {
		return nil
	}
	channelID := m.MessageReference.ChannelID
	if channelID == "" {
		channelID = m.ChannelID
	}
	fetched, err := c.session.ChannelMessage(channelID, m.MessageReference.MessageID)
	if err != nil {
		logger.DebugCF("discord", "Failed to fetch referenced message", map[string]any{
			"message_id": m.MessageReference.MessageID,
			"error":      err.Error(),
		})
		return nil
	}
	return fetched
}

// speakerNames maps author IDs to guild nicknames. Gateway events carry the
// member, REST history does not, so a nickname seen once is applied to every
// message by that author.
type speakerNames map[string]string

func (s speakerNames) learn(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Member == nil || m.Member.Nick == "" {
		return
	}
	s[m.Author.ID] = m.Member.Nick
}

// clean reduces a Discord message to the speaker's display name and its
// text with mentions resolved.
func (s speakerNames) clean(m *discordgo.Message) memory.Message {
	s.learn(m)
	return memory.Message{
		Speaker: strings.TrimSpace(s.name(m)),
		Text:    strings.TrimSpace(m.ContentWithMentionsReplaced()),
	}
}

func (s speakerNames) name(m *discordgo.Message) string {
	if m.Author == nil {
		return ""
	}
	if nick, ok := s[m.Author.ID]; ok {
		return nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

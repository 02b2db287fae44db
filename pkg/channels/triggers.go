package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
	typingMaxDuration     = 3 * time.Minute

	embedTitle = "CogniBot"
	embedColor = 0x00ff00
)

// messageTrigger answers a chat message with a reply to it.
type messageTrigger struct {
	ch  *DiscordChannel
	msg *discordgo.Message
}

func (t *messageTrigger) Kind() bus.TriggerKind { return bus.TriggerDirectMessage }
func (t *messageTrigger) ChannelID() string { return t.msg.ChannelID }

func (t *messageTrigger) Typing(context.Context) (func(), error) {
	return t.ch.beginTyping(t.msg.ChannelID), nil
}

func (t *messageTrigger) Deliver(ctx context.Context, reply bus.Reply) error {
	for i, chunk := range splitMessage(reply.Text, replyChunkLimit) {
		err := t.ch.send(ctx, func() error {
			if i == 0 {
				_, err := t.ch.session.ChannelMessageSendReply(t.msg.ChannelID, chunk, t.msg.Reference())
				return err
			}
			_, err := t.ch.session.ChannelMessageSend(t.msg.ChannelID, chunk)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// NotifyFailure tells the author by direct message that the reply could not
// be posted in the channel.
func (t *messageTrigger) NotifyFailure(ctx context.Context, text string) error {
	if t.msg.Author == nil {
		return fmt.Errorf("message has no author")
	}
	return t.ch.send(ctx, func() error {
		dm, err := t.ch.session.UserChannelCreate(t.msg.Author.ID)
		if err != nil {
			return err
		}
		_, err = t.ch.session.ChannelMessageSend(dm.ID, text)
		return err
	})
}

// interactionTrigger answers a deferred slash command with follow-ups. The
// first follow-up carries an embed naming the instruction and who asked.
type interactionTrigger struct {
	ch          *DiscordChannel
	interaction *discordgo.Interaction
}

func (t *interactionTrigger) Kind() bus.TriggerKind { return bus.TriggerCommand }
func (t *interactionTrigger) ChannelID() string { return t.interaction.ChannelID }

func (t *interactionTrigger) Deliver(ctx context.Context, reply bus.Reply) error {
	chunks := splitMessage(reply.Text, replyChunkLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	for i, chunk := range chunks {
		params := &discordgo.WebhookParams{Content: chunk}
		if i == 0 && reply.Instruct != "" {
			params.Embeds = []*discordgo.MessageEmbed{instructEmbed(reply.Instruct, interactionUser(t.interaction))}
		}
		err := t.ch.send(ctx, func() error {
			_, err := t.ch.session.FollowupMessageCreate(t.interaction, true, params)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *interactionTrigger) NotifyFailure(ctx context.Context, text string) error {
	return t.ch.send(ctx, func() error {
		_, err := t.ch.session.FollowupMessageCreate(t.interaction, true, &discordgo.WebhookParams{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		return err
	})
}

// channelPostTrigger posts a reply straight into a channel.
type channelPostTrigger struct {
	ch        *DiscordChannel
	channelID string
}

func (t *channelPostTrigger) Kind() bus.TriggerKind { return bus.TriggerScheduled }
func (t *channelPostTrigger) ChannelID() string { return t.channelID }

func (t *channelPostTrigger) Typing(context.Context) (func(), error) {
	return t.ch.beginTyping(t.channelID), nil
}

func (t *channelPostTrigger) Deliver(ctx context.Context, reply bus.Reply) error {
	for _, chunk := range splitMessage(reply.Text, replyChunkLimit) {
		err := t.ch.send(ctx, func() error {
			_, err := t.ch.session.ChannelMessageSend(t.channelID, chunk)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func instructEmbed(instruct string, user *discordgo.User) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       embedTitle,
		Description: instruct,
		Color:       embedColor,
	}
	if user != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    user.Username,
			IconURL: user.AvatarURL(""),
		}
	}
	return embed
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// send runs a Discord REST call bounded by sendTimeout.
func (c *DiscordChannel) send(ctx context.Context, call func() error) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("discord send timeout: %w", sendCtx.Err())
	}
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "Failed to send typing indicator", map[string]any{
			"channel_id": channelID,
			"error":      err.Error(),
		})
	}
}

// beginTyping keeps the typing indicator alive in channelID until every
// returned stop func has run, or at most typingMaxDuration.
func (c *DiscordChannel) beginTyping(channelID string) func() {
	if channelID == "" {
		return func() {}
	}

	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return sync.OnceFunc(func() { c.endTyping(channelID, sess) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), typingMaxDuration)
	sess := &typingSession{pending: 1, cancel: cancel}
	c.typing[channelID] = sess
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		defer c.dropTyping(channelID, sess)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
	return sync.OnceFunc(func() { c.endTyping(channelID, sess) })
}

// endTyping releases one hold on sess. A session that already timed out
// and was replaced is left alone.
func (c *DiscordChannel) endTyping(channelID string, sess *typingSession) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	if c.typing[channelID] != sess {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) dropTyping(channelID string, sess *typingSession) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typing[channelID] == sess {
		delete(c.typing, channelID)
	}
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}

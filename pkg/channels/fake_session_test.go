package channels

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
)

type sentMessage struct {
	channelID string
	content   string
	reference *discordgo.MessageReference
}

type fakeSession struct {
	mu sync.Mutex

	history    map[string][]*discordgo.Message
	messages   map[string]*discordgo.Message
	channels   map[string]*discordgo.Channel
	roles      []*discordgo.Role
	sendErr    error
	historyErr error

	sent          []sentMessage
	typing        []string
	followups     []*discordgo.WebhookParams
	responses     []*discordgo.InteractionResponse
	bulkDeleted   []string
	deleted       []string
	created       []discordgo.GuildChannelCreateData
	nicknames     []string
	statuses      []string
	registered    []*discordgo.ApplicationCommand
	dmRecipients  []string
	handlersAdded int
	opened        bool
	closed        bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		history:  map[string][]*discordgo.Message{},
		messages: map[string]*discordgo.Message{},
		channels: map[string]*discordgo.Channel{},
	}
}

func (f *fakeSession) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) AddHandler(interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlersAdded++
	return func() {}
}

func (f *fakeSession) UpdateGameStatus(_ int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, name)
	return nil
}

func (f *fakeSession) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	msgs := f.history[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeSession) ChannelMessage(_, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownMessage)
	}
	return m, nil
}

func (f *fakeSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageSendReply(channelID string, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content, reference: ref})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessagesBulkDelete(_ string, ids []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkDeleted = append(f.bulkDeleted, ids...)
	return nil
}

func (f *fakeSession) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, channelID)
	return nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownChannel)
	}
	return ch, nil
}

func (f *fakeSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelID)
	return f.channels[channelID], nil
}

func (f *fakeSession) GuildChannelCreateComplex(_ string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, data)
	return &discordgo.Channel{ID: "new-" + data.Name, Name: data.Name, ParentID: data.ParentID}, nil
}

func (f *fakeSession) GuildMemberNickname(_, _, nickname string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nicknames = append(f.nicknames, nickname)
	return nil
}

func (f *fakeSession) GuildRoles(string, ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmRecipients = append(f.dmRecipients, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.followups = append(f.followups, data)
	return &discordgo.Message{Content: data.Content}, nil
}

func (f *fakeSession) ApplicationCommandBulkOverwrite(_ string, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = cmds
	return cmds, nil
}

func (f *fakeSession) lastResponse() *discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil
	}
	return f.responses[len(f.responses)-1]
}

func restError(status, code int) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: status, Status: fmt.Sprintf("%d %s", status, http.StatusText(status))},
		ResponseBody: []byte(fmt.Sprintf(`{"code":%d}`, code)),
		Message:      &discordgo.APIErrorMessage{Code: code},
	}
}

var botUser = &discordgo.User{ID: "bot", Username: "AriaBot"}

type testChannel struct {
	*DiscordChannel
	fake  *fakeSession
	queue *bus.WorkQueue
	chat  *agent.Session
}

func newTestChannel(t *testing.T, mutate func(cfg *config.Config)) *testChannel {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Discord.Token = "token"
	cfg.Discord.GuildID = "guild"
	cfg.Discord.OwnerID = "owner"
	cfg.Discord.RequiredRole = "Moderator"
	cfg.Discord.RateLimitPerMinute = 0
	cfg.Persona.CharactersDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	chat, err := agent.NewSession(context.Background(), agent.SessionOptions{
		Persona:   &persona.Persona{Name: "Aria", Description: "An archivist", UserName: "You"},
		MaxTokens: 2000,
	})
	require.NoError(t, err)

	fake := newFakeSession()
	queue := bus.NewWorkQueue(16)
	t.Cleanup(queue.Close)
	c := newDiscordChannel(fake, cfg, queue, chat)
	c.onReady(&discordgo.Ready{User: botUser})
	return &testChannel{DiscordChannel: c, fake: fake, queue: queue, chat: chat}
}

func (tc *testChannel) nextRequest(t *testing.T) bus.Request {
	t.Helper()
	require.Positive(t, tc.queue.Len(), "expected a queued request")
	req, ok := tc.queue.Dequeue(context.Background())
	require.True(t, ok)
	return req
}

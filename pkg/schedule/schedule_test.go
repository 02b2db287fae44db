package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
)

type postTrigger struct{ channel string }

func (p postTrigger) Kind() bus.TriggerKind { return bus.TriggerScheduled }
func (p postTrigger) ChannelID() string { return p.channel }
func (p postTrigger) Deliver(context.Context, bus.Reply) error { return nil }

func triggerFor(channelID string) (bus.Trigger, error) {
	return postTrigger{channel: channelID}, nil
}

func TestNewRejectsInvalidSchedules(t *testing.T) {
	q := bus.NewWorkQueue(1)

	_, err := New([]config.ScheduleConfig{{Name: "bad", Cron: "every day", ChannelID: "c", Instruct: "x"}}, q, triggerFor)
	assert.ErrorIs(t, err, config.ErrInvalidCron)

	_, err = New([]config.ScheduleConfig{{Name: "nochan", Cron: "0 9 * * *", Instruct: "x"}}, q, triggerFor)
	assert.Error(t, err)
}

func TestRunDueQueuesInstructionPrompt(t *testing.T) {
	q := bus.NewWorkQueue(4)
	s, err := New([]config.ScheduleConfig{
		{Name: "morning-fact", Cron: "0 9 * * *", ChannelID: "general", Style: "sme", Instruct: "Create a random fact"},
		{Name: "evening", Cron: "0 21 * * *", ChannelID: "general", Style: "casual", Instruct: "Say good night"},
	}, q, triggerFor)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.Local)
	assert.Equal(t, 1, s.RunDue(context.Background(), at))

	req, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, bus.TriggerScheduled, req.Trigger.Kind())
	assert.Equal(t, "general", req.Trigger.ChannelID())
	assert.Equal(t, "Create a random fact", req.Instruct)
	assert.Empty(t, req.Location)
	assert.Contains(t, req.Prompt, "### Instruction:\nCreate a random fact")

	assert.Equal(t, 0, s.RunDue(context.Background(), at.Add(10*time.Second)), "a job fires once per minute")
	assert.Equal(t, 0, s.RunDue(context.Background(), at.Add(time.Hour)))
}

func TestRunDueSkipsUnresolvableChannel(t *testing.T) {
	q := bus.NewWorkQueue(1)
	s, err := New([]config.ScheduleConfig{{Name: "x", Cron: "* * * * *", ChannelID: "gone", Instruct: "hi"}}, q,
		func(string) (bus.Trigger, error) { return nil, errors.New("not connected") })
	require.NoError(t, err)

	assert.Equal(t, 0, s.RunDue(context.Background(), time.Now()))
	assert.Zero(t, q.Len())
}

func TestStartStop(t *testing.T) {
	q := bus.NewWorkQueue(1)
	s, err := New([]config.ScheduleConfig{{Name: "x", Cron: "0 0 1 1 *", ChannelID: "c", Instruct: "hi"}}, q, triggerFor)
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

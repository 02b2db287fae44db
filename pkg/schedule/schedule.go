// Package schedule posts instruction-prompt replies into channels on cron
// schedules.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

// TriggerFunc resolves the trigger that posts into a channel.
type TriggerFunc func(channelID string) (bus.Trigger, error)

type job struct {
	config.ScheduleConfig
	lastRun time.Time
}

// Scheduler checks every job once a minute and queues an instruction prompt
// for each one that is due.
type Scheduler struct {
	jobs    []*job
	queue   *bus.WorkQueue
	trigger TriggerFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(schedules []config.ScheduleConfig, queue *bus.WorkQueue, trigger TriggerFunc) (*Scheduler, error) {
	s := &Scheduler{queue: queue, trigger: trigger}
	g := gronx.New()
	for i, sc := range schedules {
		if !g.IsValid(sc.Cron) {
			return nil, fmt.Errorf("schedule %d (%s): %w: %q", i, sc.Name, config.ErrInvalidCron, sc.Cron)
		}
		if sc.ChannelID == "" || sc.Instruct == "" {
			return nil, fmt.Errorf("schedule %d (%s): channel_id and instruct are required", i, sc.Name)
		}
		s.jobs = append(s.jobs, &job{ScheduleConfig: sc})
	}
	return s, nil
}

func (s *Scheduler) Len() int { return len(s.jobs) }

// Start runs the check loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || len(s.jobs) == 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	for _, j := range s.jobs {
		fields := map[string]any{"name": j.Name, "cron": j.Cron, "channel_id": j.ChannelID}
		if next, err := gronx.NextTickAfter(j.Cron, time.Now(), false); err == nil {
			fields["next_run"] = next.Format(time.RFC3339)
		}
		logger.InfoCF("schedule", "Schedule registered", fields)
	}

	go s.loop(ctx, s.done)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.InfoC("schedule", "Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Align to the start of the next minute.
	now := time.Now()
	wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-timer.C:
			s.RunDue(ctx, t)
			timer.Reset(time.Until(t.Truncate(time.Minute).Add(time.Minute)))
		}
	}
}

// RunDue queues every job due at now and returns how many were queued. A
// job fires at most once per minute.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	minute := now.Truncate(time.Minute)
	g := gronx.New()
	queued := 0

	for _, j := range s.jobs {
		if !j.lastRun.IsZero() && !minute.After(j.lastRun) {
			continue
		}
		due, err := g.IsDue(j.Cron, minute)
		if err != nil {
			logger.WarnCF("schedule", "Cron check failed", map[string]any{"name": j.Name, "error": err.Error()})
			continue
		}
		if !due {
			continue
		}
		j.lastRun = minute

		trig, err := s.trigger(j.ChannelID)
		if err != nil {
			logger.WarnCF("schedule", "No channel for scheduled post", map[string]any{"name": j.Name, "error": err.Error()})
			continue
		}
		req := bus.NewRequest(trig, agent.BuildInstructPrompt(j.Style, j.Instruct), j.Instruct, "")
		if err := s.queue.Enqueue(ctx, req); err != nil {
			logger.WarnCF("schedule", "Failed to queue scheduled post", map[string]any{"name": j.Name, "error": err.Error()})
			continue
		}
		logger.InfoCF("schedule", "Scheduled post queued", map[string]any{
			"name":       j.Name,
			"channel_id": j.ChannelID,
			"request_id": req.ID,
		})
		queued++
	}
	return queued
}

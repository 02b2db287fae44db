// DotPersona - Discord persona bot for locally hosted language models
// License: MIT
//
// Copyright (c) 2026 DotPersona contributors

package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

// Poster is implemented by channels that can post unsolicited messages,
// such as scheduled instruction replies.
type Poster interface {
	PostTrigger(channelID string) bus.Trigger
}

type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates an empty manager. Use NewDiscordManager for the
// configured gateway.
func NewManager() *Manager {
	return &Manager{
		channels: make(map[string]Channel),
	}
}

func NewDiscordManager(cfg *config.Config, queue *bus.WorkQueue, chat *agent.Session) (*Manager, error) {
	logger.InfoC("channels", "Initializing channel manager")

	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return nil, config.ErrMissingToken
	}

	m := NewManager()
	discord, err := NewDiscordChannel(cfg, queue, chat)
	if err != nil {
		return nil, fmt.Errorf("initialize Discord channel: %w", err)
	}
	m.RegisterChannel("discord", discord)

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": len(m.channels),
	})
	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	if len(m.channels) == 0 {
		m.mu.RUnlock()
		logger.WarnC("channels", "No channels enabled")
		return nil
	}
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channelsCopy[name] = channel
	}
	m.mu.RUnlock()

	logger.InfoC("channels", "Starting all channels")

	var started []string
	var startErrors []string
	for name, channel := range channelsCopy {
		logger.InfoCF("channels", "Starting channel", map[string]any{"channel": name})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			if err := channelsCopy[name].Stop(ctx); err != nil {
				logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]any{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
		return fmt.Errorf("failed to start channels: %s", strings.Join(startErrors, "; "))
	}

	logger.InfoCF("channels", "All channels started", map[string]any{
		"count": len(started),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.InfoC("channels", "Stopping all channels")
	for name, channel := range m.channels {
		if !channel.IsRunning() {
			continue
		}
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// PostTrigger finds a channel able to post into channelID.
func (m *Manager) PostTrigger(channelID string) (bus.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.sortedNames() {
		if p, ok := m.channels[name].(Poster); ok {
			return p.PostTrigger(channelID), nil
		}
	}
	return nil, fmt.Errorf("no channel can post to %s", channelID)
}

func (m *Manager) GetStatus() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]any)
	for name, channel := range m.channels {
		status[name] = map[string]any{
			"enabled": true,
			"running": channel.IsRunning(),
		}
	}
	return status
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedNames()
}

func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

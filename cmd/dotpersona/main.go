// DotPersona - Discord persona bot for locally hosted language models
// License: MIT
//
// Copyright (c) 2026 DotPersona contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/agent"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/channels"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/health"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
	"github.com/dotsetgreg/dotpersona/pkg/schedule"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const (
	appName         = "dotpersona"
	shutdownTimeout = 10 * time.Second
)

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	build = buildTime
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// personaOptions are the command-line overrides shared by run, chat and prompt.
type personaOptions struct {
	character         string
	paramsPath        string
	persistentLogs    bool
	historyLimit      int
	permanentDialogue bool
}

func (o personaOptions) apply(cfg *config.Config) {
	if o.character != "" {
		cfg.Persona.Character = o.character
	}
	if o.paramsPath != "" {
		cfg.Model.ParamsPath = o.paramsPath
	}
	if o.persistentLogs {
		cfg.Persona.PersistentLogs = true
	}
	if o.historyLimit > 0 {
		cfg.Model.HistoryLimit = o.historyLimit
	}
	if o.permanentDialogue {
		cfg.Persona.PermanentDialogue = true
	}
}

// app is the wired runtime shared by the commands.
type app struct {
	cfg     *config.Config
	session *agent.Session
}

type appOptions struct {
	requireDiscord bool
	// withStore opens the memory log backend; prompt previews skip it.
	withStore bool
}

func loadApp(ctx context.Context, configPath string, po personaOptions, ao appOptions) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	po.apply(cfg)
	if err := cfg.Validate(ao.requireDiscord); err != nil {
		return nil, fmt.Errorf("configuration error in %s: %w", configPath, err)
	}

	p, err := persona.Load(cfg.CharacterPath())
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(cfg.Persona.UserName); name != "" {
		p.UserName = name
	}
	p.PinExampleDialogue = p.PinExampleDialogue || cfg.Persona.PermanentDialogue

	params, err := loadParams(cfg.Model.ParamsPath)
	if err != nil {
		return nil, err
	}
	counter, err := providers.CreateTokenCounter(cfg)
	if err != nil {
		return nil, err
	}

	var store memory.Store
	if ao.withStore {
		name := memory.LogName(p.Name, cfg.Persona.PersistentLogs, time.Now())
		store, err = memory.OpenStore(cfg.Persona.LogBackend, cfg.LogDirPath(), name)
		if err != nil {
			return nil, err
		}
		logger.InfoCF("main", "Memory log opened", map[string]any{
			"backend": valueOr(cfg.Persona.LogBackend, "json"),
			"name":    name,
		})
	}

	session, err := agent.NewSession(ctx, agent.SessionOptions{
		Persona:      p,
		Params:       params,
		Counter:      counter,
		Store:        store,
		MaxTokens:    cfg.Model.MaxContextTokens,
		HistoryLimit: cfg.Model.HistoryLimit,
		Restore:      cfg.Persona.PersistentLogs,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	logger.InfoCF("main", "Persona loaded", map[string]any{
		"persona":        p.Name,
		"character_path": cfg.CharacterPath(),
		"max_tokens":     cfg.Model.MaxContextTokens,
		"history_limit":  cfg.Model.HistoryLimit,
		"pin_dialogue":   p.PinExampleDialogue,
	})
	return &app{cfg: cfg, session: session}, nil
}

// loadParams reads the generation parameters file. A missing file means the
// backend defaults are used.
func loadParams(path string) (providers.Params, error) {
	if strings.TrimSpace(path) == "" {
		return providers.Params{}, nil
	}
	params, err := providers.LoadParams(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.WarnCF("main", "Params file not found, using backend defaults", map[string]any{"path": path})
		return providers.Params{}, nil
	}
	return params, err
}

func (a *app) close() {
	if err := a.session.Save(context.Background()); err != nil {
		logger.WarnCF("main", "Final memory log save failed", map[string]any{"error": err.Error()})
	}
	if err := a.session.Close(); err != nil {
		logger.WarnCF("main", "Closing memory log failed", map[string]any{"error": err.Error()})
	}
}

// runGateway connects to Discord and serves until interrupted.
func runGateway(configPath string, po personaOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, configPath, po, appOptions{requireDiscord: true, withStore: true})
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	queue := bus.NewWorkQueue(0)
	worker := agent.NewWorker(queue, provider, a.session)
	worker.IsPermissionError = channels.IsPermissionError

	manager, err := channels.NewDiscordManager(cfg, queue, a.session)
	if err != nil {
		return err
	}
	scheduler, err := schedule.New(cfg.Schedules, queue, manager.PostTrigger)
	if err != nil {
		return err
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = worker.Run(ctx)
	}()

	if err := manager.StartAll(ctx); err != nil {
		queue.Close()
		<-workerDone
		return fmt.Errorf("start channels: %w", err)
	}
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(manager.GetEnabledChannels(), ", "))

	scheduler.Start(ctx)
	if scheduler.Len() > 0 {
		fmt.Printf("✓ %d scheduled post(s) registered\n", scheduler.Len())
	}

	var healthServer *health.Server
	if cfg.Gateway.Enabled {
		healthServer = newHealthServer(cfg, manager, worker, queue, a.session, provider.Name())
		go func() {
			if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
			}
		}()
		healthServer.SetReady(true)
		fmt.Printf("✓ Health endpoints available at http://%s/health, /ready and /status\n", healthServer.Addr())
	}

	fmt.Printf("✓ %s is online as %s. Press Ctrl+C to stop\n", appName, a.session.PersonaName())
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if healthServer != nil {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.WarnCF("health", "Health server shutdown failed", map[string]any{"error": err.Error()})
		}
	}
	scheduler.Stop()
	if err := manager.StopAll(shutdownCtx); err != nil {
		logger.WarnCF("main", "Stopping channels failed", map[string]any{"error": err.Error()})
	}
	queue.Close()
	<-workerDone
	fmt.Println("✓ Gateway stopped")
	return nil
}

func newHealthServer(cfg *config.Config, manager *channels.Manager, worker *agent.Worker, queue *bus.WorkQueue, session *agent.Session, providerName string) *health.Server {
	s := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	s.RegisterCheck("worker", func() (bool, string) {
		if worker.Running() {
			return true, "running"
		}
		return false, "stopped"
	})
	s.RegisterCheck("discord", func() (bool, string) {
		ch, ok := manager.GetChannel("discord")
		if !ok {
			return false, "not registered"
		}
		if ch.IsRunning() {
			return true, "connected"
		}
		return false, "disconnected"
	})
	s.SetStatusFunc(func() map[string]any {
		return map[string]any{
			"version":       formatVersion(),
			"persona":       session.PersonaName(),
			"provider":      providerName,
			"history_limit": session.HistoryLimit(),
			"queue_depth":   queue.Len(),
			"enqueued":      queue.Enqueued(),
			"processed":     queue.Processed(),
			"failed":        queue.Failed(),
			"channels":      manager.GetStatus(),
		}
	})
	return s
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

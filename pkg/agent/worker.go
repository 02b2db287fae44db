// DotPersona - Discord persona bot for locally hosted language models
// License: MIT
//
// Copyright (c) 2026 DotPersona contributors

package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

const deliveryFailureNotice = "I wrote a reply but could not post it here. Please check my channel permissions."

// Worker is the single consumer of the work queue. It owns every model call,
// so requests are answered strictly in arrival order.
type Worker struct {
	queue    *bus.WorkQueue
	provider providers.InferenceProvider
	session  *Session
	running  atomic.Bool

	// IsPermissionError classifies delivery errors that warrant a fallback
	// notice. Nil disables the notice.
	IsPermissionError func(error) bool
}

func NewWorker(queue *bus.WorkQueue, provider providers.InferenceProvider, session *Session) *Worker {
	return &Worker{
		queue:    queue,
		provider: provider,
		session:  session,
	}
}

// Run processes requests until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	logger.InfoCF("worker", "Inference worker started", map[string]any{"provider": w.provider.Name()})
	for {
		req, ok := w.queue.Dequeue(ctx)
		if !ok {
			logger.InfoC("worker", "Inference worker stopped")
			return nil
		}
		if err := w.Process(ctx, req); err != nil {
			w.queue.MarkFailed()
			continue
		}
		w.queue.MarkProcessed()
	}
}

func (w *Worker) Running() bool {
	return w.running.Load()
}

// Process generates and delivers the reply for one request. Failures are
// logged and returned; nothing is retried.
func (w *Worker) Process(ctx context.Context, req bus.Request) error {
	fields := map[string]any{
		"request_id": req.ID,
		"trigger":    kindOf(req.Trigger),
		"queued_for": time.Since(req.EnqueuedAt).Round(time.Millisecond).String(),
	}

	if t, ok := req.Trigger.(bus.TypingIndicator); ok {
		stop, err := t.Typing(ctx)
		if err != nil {
			logger.DebugCF("worker", "Typing indicator failed", map[string]any{"error": err.Error()})
		}
		if stop != nil {
			defer stop()
		}
	}

	logger.DebugCF("worker", "Prompt", map[string]any{"request_id": req.ID, "prompt": req.Prompt})
	started := time.Now()
	text, err := w.provider.Generate(ctx, req.Prompt, w.session.Params())
	if err != nil {
		fields["error"] = err.Error()
		logger.ErrorCF("worker", "Generation failed", fields)
		return err
	}
	text = strings.TrimSpace(text)
	fields["generation_ms"] = time.Since(started).Milliseconds()
	fields["reply_chars"] = len(text)
	logger.DebugCF("worker", "Response", map[string]any{"request_id": req.ID, "response": text})

	if req.Instruct == "" && req.Location != "" {
		if err := w.session.RecordReply(ctx, req.Location, text); err != nil {
			logger.WarnCF("worker", "Failed to persist memory log", map[string]any{"error": err.Error()})
		}
	}

	if req.Trigger == nil {
		logger.InfoCF("worker", "Reply generated without a delivery target", fields)
		return nil
	}
	if err := req.Trigger.Deliver(ctx, bus.Reply{Text: text, Instruct: req.Instruct}); err != nil {
		fields["error"] = err.Error()
		logger.ErrorCF("worker", "Reply delivery failed", fields)
		w.notifyFailure(ctx, req, err)
		return err
	}
	logger.InfoCF("worker", "Reply delivered", fields)
	return nil
}

func (w *Worker) notifyFailure(ctx context.Context, req bus.Request, deliverErr error) {
	if w.IsPermissionError == nil || !w.IsPermissionError(deliverErr) {
		return
	}
	n, ok := req.Trigger.(bus.FallbackNotifier)
	if !ok {
		return
	}
	if err := n.NotifyFailure(ctx, deliveryFailureNotice); err != nil {
		logger.WarnCF("worker", "Fallback notice failed", map[string]any{
			"request_id": req.ID,
			"error":      errors.Join(deliverErr, err).Error(),
		})
	}
}

func kindOf(t bus.Trigger) string {
	if t == nil {
		return "none"
	}
	return t.Kind().String()
}

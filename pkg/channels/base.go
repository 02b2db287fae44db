package channels

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries what every platform adapter shares: the work queue,
// the sender allow-list and a per-sender rate limit.
type BaseChannel struct {
	queue     *bus.WorkQueue
	running   atomic.Bool
	name      string
	allowList []string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

// NewBaseChannel builds the shared adapter state. perMinute <= 0 disables
// rate limiting.
func NewBaseChannel(name string, queue *bus.WorkQueue, allowList []string, perMinute, burst int) *BaseChannel {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &BaseChannel{
		queue:     queue,
		name:      name,
		allowList: allowList,
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: limit,
		rateBurst: burst,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}

	return false
}

// AllowRate reports whether senderID may queue another request now.
func (c *BaseChannel) AllowRate(senderID string) bool {
	if c.rateLimit == rate.Inf {
		return true
	}
	c.limiterMu.Lock()
	lim, ok := c.limiters[senderID]
	if !ok {
		lim = rate.NewLimiter(c.rateLimit, c.rateBurst)
		c.limiters[senderID] = lim
	}
	c.limiterMu.Unlock()
	return lim.Allow()
}

// Enqueue hands a request to the inference worker, blocking while the queue
// is full.
func (c *BaseChannel) Enqueue(ctx context.Context, req bus.Request) error {
	if err := c.queue.Enqueue(ctx, req); err != nil {
		logger.WarnCF(c.name, "Failed to queue request", map[string]any{
			"request_id": req.ID,
			"error":      err.Error(),
		})
		return err
	}
	logger.DebugCF(c.name, "Request queued", map[string]any{
		"request_id": req.ID,
		"trigger":    req.Trigger.Kind().String(),
		"queue_len":  c.queue.Len(),
	})
	return nil
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

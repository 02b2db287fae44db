// Package health serves liveness, readiness and runtime status over HTTP.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

const readHeaderTimeout = 5 * time.Second

// Check reports whether one dependency is ready, with a short detail.
type Check func() (ok bool, detail string)

// StatusFunc returns the body of GET /status.
type StatusFunc func() map[string]any

type Server struct {
	engine  *gin.Engine
	server  *http.Server
	started time.Time
	ready   atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check
	status StatusFunc
}

type checkResult struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func NewServer(host string, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:  r,
		started: time.Now(),
		checks:  map[string]Check{},
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/status", s.handleStatus)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Addr() string { return s.server.Addr }

func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Server) RegisterCheck(name string, check Check) {
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

func (s *Server) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	s.status = fn
	s.mu.Unlock()
}

// Start blocks serving until Stop. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	logger.InfoCF("health", "Health server listening", map[string]any{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.SetReady(false)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown health server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make(map[string]checkResult, len(names))
	allOK := s.ready.Load()
	for _, name := range names {
		ok, detail := s.checks[name]()
		results[name] = checkResult{OK: ok, Detail: detail}
		allOK = allOK && ok
	}
	s.mu.RUnlock()

	code, state := http.StatusOK, "ready"
	if !allOK {
		code, state = http.StatusServiceUnavailable, "not ready"
	}
	c.JSON(code, gin.H{"status": state, "checks": results})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	fn := s.status
	s.mu.RUnlock()

	body := map[string]any{}
	if fn != nil {
		for k, v := range fn() {
			body[k] = v
		}
	}
	body["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	body["ready"] = s.ready.Load()
	c.JSON(http.StatusOK, body)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugCF("health", "HTTP request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

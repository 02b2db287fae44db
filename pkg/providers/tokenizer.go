package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
)

const (
	tokenizerCacheSize = 4096
	tokenizeTimeout    = 10 * time.Second
)

// RemoteCounter asks the model server to tokenize text so budgets match the
// model's real vocabulary. Counts are cached per exact string because the
// same history lines are re-counted on every prompt. When the server cannot
// be reached the fallback counter is used.
type RemoteCounter struct {
	url        string
	bodyKey    string
	auth       RequestAuth
	httpClient *http.Client
	cache      *lru.Cache[string, int]
	fallback   prompt.TokenCounter
	warnOnce   sync.Once
}

// NewRemoteCounter builds a counter for the given provider's tokenize endpoint:
// /api/v1/token-count for textgen servers and /tokenize for llama.cpp style
// OpenAI-compatible servers.
func NewRemoteCounter(providerName, apiBase string, auth RequestAuth, fallback prompt.TokenCounter) (*RemoteCounter, error) {
	cache, err := lru.New[string, int](tokenizerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer cache: %w", err)
	}
	if auth == nil {
		auth = anonymous{}
	}
	if fallback == nil {
		fallback = prompt.HeuristicCounter{}
	}
	apiBase = strings.TrimRight(apiBase, "/")
	c := &RemoteCounter{
		auth:       auth,
		httpClient: &http.Client{Timeout: tokenizeTimeout},
		cache:      cache,
		fallback:   fallback,
	}
	switch NormalizeProviderName(providerName) {
	case ProviderTextGen:
		c.url, c.bodyKey = apiBase+"/api/v1/token-count", "prompt"
	default:
		c.url, c.bodyKey = strings.TrimSuffix(apiBase, "/v1")+"/tokenize", "content"
	}
	return c, nil
}

func (c *RemoteCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if n, ok := c.cache.Get(text); ok {
		return n
	}
	ctx, cancel := context.WithTimeout(context.Background(), tokenizeTimeout)
	defer cancel()
	n, err := c.count(ctx, text)
	if err != nil {
		c.warnOnce.Do(func() {
			logger.WarnCF("tokenizer", "Remote tokenizer unavailable, using estimate", map[string]any{
				"url":   c.url,
				"error": err.Error(),
			})
		})
		return c.fallback.CountTokens(text)
	}
	c.cache.Add(text, n)
	return n
}

func (c *RemoteCounter) count(ctx context.Context, text string) (int, error) {
	payload, err := json.Marshal(map[string]string{c.bodyKey: text})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.Apply(req); err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tokenize status %d: %s", resp.StatusCode, extractAPIError(body))
	}
	return parseTokenCount(body)
}

// parseTokenCount accepts {"tokens":[...]} and {"results":[{"tokens":N}]}.
func parseTokenCount(body []byte) (int, error) {
	var out struct {
		Tokens  []json.RawMessage `json:"tokens"`
		Results []struct {
			Tokens int `json:"tokens"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode tokenize response: %w", err)
	}
	if out.Tokens != nil {
		return len(out.Tokens), nil
	}
	if len(out.Results) > 0 {
		return out.Results[0].Tokens, nil
	}
	return 0, fmt.Errorf("tokenize response has no token count")
}

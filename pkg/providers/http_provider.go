// DotPersona - Discord persona bot for locally hosted language models
// License: MIT
//
// Copyright (c) 2026 DotPersona contributors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderTextGen = "textgen"

	defaultTextGenAPIBase = "http://127.0.0.1:5000"
	textGenGeneratePath   = "/api/v1/generate"
	defaultHTTPTimeout    = 300 * time.Second
)

// HTTPProvider talks to a local text-generation server exposing the
// /api/v1/generate completion endpoint. Params are merged into the request
// body verbatim, so any sampler setting the server understands can be tuned
// at runtime.
type HTTPProvider struct {
	apiBase    string
	auth       RequestAuth
	httpClient *http.Client
}

func NewHTTPProvider(apiBase string, auth RequestAuth) *HTTPProvider {
	if auth == nil {
		auth = anonymous{}
	}
	return &HTTPProvider{
		apiBase:    strings.TrimRight(apiBase, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (p *HTTPProvider) Name() string { return ProviderTextGen }

func (p *HTTPProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	if p.apiBase == "" {
		return "", fmt.Errorf("%s API base not configured", ProviderTextGen)
	}

	requestBody := make(map[string]any, len(params)+1)
	for k, v := range params {
		requestBody[k] = v
	}
	requestBody["prompt"] = prompt

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+textGenGeneratePath, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := p.auth.Apply(req); err != nil {
		return "", err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s", augmentProviderError(ProviderTextGen, fmt.Sprintf("failed to send request: %v", err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s API request failed:\n  Status: %d\n  Error:  %s",
			ProviderTextGen, resp.StatusCode, augmentProviderError(ProviderTextGen, extractAPIError(body)))
	}

	return parseGenerateResponse(body)
}

func parseGenerateResponse(body []byte) (string, error) {
	var apiResponse struct {
		Results []struct {
			Text string `json:"text"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResponse.Results) == 0 {
		return "", ErrEmptyCompletion
	}
	return apiResponse.Results[0].Text, nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Error.Message, payload.Detail, payload.Message} {
			if msg = strings.TrimSpace(msg); msg != "" {
				return msg
			}
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}

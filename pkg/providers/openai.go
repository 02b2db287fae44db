package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

const ProviderOpenAI = "openai"

// OpenAIProvider calls an OpenAI-compatible /completions endpoint (llama.cpp
// server, vLLM, LM Studio and similar). Only the sampler settings the
// completions API defines are forwarded; other params are ignored.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiBase, apiKey, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/"); apiBase != "" {
		cfg.BaseURL = apiBase
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	req := completionRequest(p.model, prompt, params)

	resp, err := p.client.CreateCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%s API request failed:\n  Status: %d\n  Error:  %s",
				ProviderOpenAI, apiErr.HTTPStatusCode, augmentProviderError(ProviderOpenAI, apiErr.Message))
		}
		return "", fmt.Errorf("%s", augmentProviderError(ProviderOpenAI, fmt.Sprintf("completion request: %v", err)))
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Text, nil
}

var completionParamKeys = map[string]bool{
	"max_tokens": true, "max_new_tokens": true, "max_length": true,
	"temperature": true, "top_p": true, "stop": true, "stopping_strings": true,
	"presence_penalty": true, "frequency_penalty": true,
}

func completionRequest(model, prompt string, params Params) openai.CompletionRequest {
	req := openai.CompletionRequest{
		Model:  model,
		Prompt: prompt,
	}
	if v, ok := optionAsInt(params, "max_tokens", "max_new_tokens", "max_length"); ok {
		req.MaxTokens = v
	}
	if v, ok := optionAsFloat(params, "temperature"); ok {
		req.Temperature = float32(v)
	}
	if v, ok := optionAsFloat(params, "top_p"); ok {
		req.TopP = float32(v)
	}
	if v, ok := optionAsFloat(params, "presence_penalty"); ok {
		req.PresencePenalty = float32(v)
	}
	if v, ok := optionAsFloat(params, "frequency_penalty"); ok {
		req.FrequencyPenalty = float32(v)
	}
	stop := optionAsStrings(params, "stop")
	if len(stop) == 0 {
		stop = optionAsStrings(params, "stopping_strings")
	}
	req.Stop = stop

	for _, k := range params.Keys() {
		if !completionParamKeys[k] {
			logger.DebugCF("provider", "Parameter not supported by completions API", map[string]any{"param": k})
		}
	}
	return req
}

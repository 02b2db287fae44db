package providers

import "strings"

func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
		return msg + " Hint: the model server is not reachable; check that it is running and that model.api_base points at it."
	}
	if strings.Contains(lower, "context length") || strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "too many tokens") {
		return msg + " Hint: the prompt exceeds the server's context window; lower model.max_context_tokens or the max_new_tokens param."
	}

	switch NormalizeProviderName(providerName) {
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") || strings.Contains(lower, "invalid api key") {
			return msg + " Hint: set model.api_key (or DOTPERSONA_MODEL_API_KEY) to a key the server accepts."
		}
		if strings.Contains(lower, "model") && strings.Contains(lower, "not found") {
			return msg + " Hint: model.model must match a model id served at model.api_base."
		}
	case ProviderTextGen:
		if strings.Contains(lower, "404") || strings.Contains(lower, "not found") {
			return msg + " Hint: the server does not expose /api/v1/generate; start it with its API extension enabled or use provider openai."
		}
	}

	return msg
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// InferenceProvider turns a fully assembled prompt into the model's continuation.
type InferenceProvider interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
	Name() string
}

// Params are generation parameters forwarded to the backend as-is. Values are
// numbers, strings, bools or lists as loaded from the params file.
type Params map[string]any

var (
	ErrInvalidParamValue = errors.New("invalid parameter value")
	ErrEmptyCompletion   = errors.New("model returned no completion")
)

// Clone returns a shallow copy safe to hand to a concurrent request.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseParamValue parses a user-supplied value, trying an integer first and
// then a float. Anything else is rejected.
func ParseParamValue(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidParamValue, raw)
	}
	return f, nil
}

// LoadParams reads a JSON object of generation parameters. Whole numbers are
// kept as int so they print and forward the way they were written.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params %s: %w", path, err)
	}
	return ParseParams(data)
}

func ParseParams(data []byte) (Params, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	out := make(Params, len(raw))
	for k, v := range raw {
		out[k] = normalizeNumber(v)
	}
	return out, nil
}

func normalizeNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(val.String()); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeNumber(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeNumber(item)
		}
		return out
	default:
		return v
	}
}

func optionAsInt(opts Params, keys ...string) (int, bool) {
	for _, key := range keys {
		v, ok := opts[key]
		if !ok || v == nil {
			continue
		}
		switch vv := v.(type) {
		case int:
			return vv, true
		case int32:
			return int(vv), true
		case int64:
			return int(vv), true
		case float32:
			return int(vv), true
		case float64:
			return int(vv), true
		}
	}
	return 0, false
}

func optionAsFloat(opts Params, key string) (float64, bool) {
	v, ok := opts[key]
	if !ok || v == nil {
		return 0, false
	}
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	default:
		return 0, false
	}
}

func optionAsStrings(opts Params, key string) []string {
	switch vv := opts[key].(type) {
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

package providers

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/config"
)

const (
	keyFilePrefix = "file:"
	keyEnvPrefix  = "env:"
)

// APIKey is the model server credential from model.api_key. It is either a
// literal, "file:<path>" read on every use, or "env:<NAME>".
type APIKey struct {
	literal string
	path    string
	env     string
}

func ParseAPIKey(raw string) APIKey {
	raw = strings.TrimSpace(raw)
	if path, ok := strings.CutPrefix(raw, keyFilePrefix); ok {
		return APIKey{path: strings.TrimSpace(path)}
	}
	if name, ok := strings.CutPrefix(raw, keyEnvPrefix); ok {
		return APIKey{env: strings.TrimSpace(name)}
	}
	return APIKey{literal: raw}
}

// IsZero reports that no credential is configured. Local servers usually
// run without one.
func (k APIKey) IsZero() bool {
	return k.literal == "" && k.path == "" && k.env == ""
}

// Origin names where the key comes from, for error messages.
func (k APIKey) Origin() string {
	switch {
	case k.path != "":
		return config.ExpandHome(k.path)
	case k.env != "":
		return "$" + k.env
	default:
		return "model.api_key"
	}
}

func (k APIKey) Resolve() (string, error) {
	var tok string
	switch {
	case k.path != "":
		data, err := os.ReadFile(config.ExpandHome(k.path))
		if err != nil {
			return "", fmt.Errorf("read api key file: %w", err)
		}
		tok = string(data)
	case k.env != "":
		tok = os.Getenv(k.env)
	default:
		tok = k.literal
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", fmt.Errorf("api key from %s is empty", k.Origin())
	}
	if unfilledPlaceholder(tok) {
		return "", fmt.Errorf("api key from %s is an unfilled placeholder (%s)", k.Origin(), tok)
	}
	return tok, nil
}

func unfilledPlaceholder(tok string) bool {
	return (strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">")) ||
		(strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}"))
}

// RequestAuth decorates outgoing model server requests.
type RequestAuth interface {
	Apply(req *http.Request) error
}

type anonymous struct{}

func (anonymous) Apply(*http.Request) error { return nil }

type bearer struct {
	key APIKey
}

func (b bearer) Apply(req *http.Request) error {
	tok, err := b.key.Resolve()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// BearerAuth sends the key as a bearer token; a zero key sends nothing.
func BearerAuth(key APIKey) RequestAuth {
	if key.IsZero() {
		return anonymous{}
	}
	return bearer{key: key}
}

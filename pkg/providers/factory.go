package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
)

const (
	TokenizerHeuristic = "heuristic"
	TokenizerRemote    = "remote"
)

type providerFactory struct {
	build    func(cfg *config.Config) (InferenceProvider, error)
	validate func(cfg *config.Config) error
}

var (
	factoryMu       sync.RWMutex
	factories       = map[string]providerFactory{}
	registrationErr error
)

func init() {
	RegisterFactory(ProviderTextGen, func(cfg *config.Config) (InferenceProvider, error) {
		base := cfg.GetAPIBase()
		if base == "" {
			base = defaultTextGenAPIBase
		}
		return NewHTTPProvider(base, BearerAuth(ParseAPIKey(cfg.GetAPIKey()))), nil
	}, nil)

	RegisterFactory(ProviderOpenAI, func(cfg *config.Config) (InferenceProvider, error) {
		key := ""
		if k := ParseAPIKey(cfg.GetAPIKey()); !k.IsZero() {
			// go-openai takes a static key; resolve file-backed keys once at startup.
			tok, err := k.Resolve()
			if err != nil {
				return nil, err
			}
			key = tok
		}
		return NewOpenAIProvider(cfg.GetAPIBase(), key, cfg.Model.Model), nil
	}, func(cfg *config.Config) error {
		if cfg.GetAPIBase() == "" {
			return fmt.Errorf("provider %s requires model.api_base", ProviderOpenAI)
		}
		if strings.TrimSpace(cfg.Model.Model) == "" {
			return fmt.Errorf("provider %s requires model.model", ProviderOpenAI)
		}
		return nil
	})
}

func RegisterFactory(name string, build func(cfg *config.Config) (InferenceProvider, error), validate func(cfg *config.Config) error) {
	name = NormalizeProviderName(name)
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if build == nil {
		registrationErr = errors.Join(registrationErr, fmt.Errorf("providers: factory build func is required"))
		return
	}
	factories[name] = providerFactory{
		build:    build,
		validate: validate,
	}
}

func SupportedProviders() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	providers := make([]string, 0, len(factories))
	for name := range factories {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderTextGen
	}
	return name
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderTextGen
	}
	return NormalizeProviderName(cfg.Model.Provider)
}

func ValidateProviderConfig(cfg *config.Config) error {
	factory, _, err := getFactory(cfg)
	if err != nil {
		return err
	}
	if factory.validate == nil {
		return nil
	}
	return factory.validate(cfg)
}

func CreateProvider(cfg *config.Config) (InferenceProvider, error) {
	factory, name, err := getFactory(cfg)
	if err != nil {
		return nil, err
	}
	if factory.validate != nil {
		if err := factory.validate(cfg); err != nil {
			return nil, err
		}
	}
	provider, err := factory.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", name, err)
	}
	return provider, nil
}

// CreateTokenCounter returns the counter selected by model.tokenizer.
func CreateTokenCounter(cfg *config.Config) (prompt.TokenCounter, error) {
	heuristic := prompt.HeuristicCounter{CharsPerToken: cfg.Model.CharsPerToken}
	switch strings.ToLower(strings.TrimSpace(cfg.Model.Tokenizer)) {
	case "", TokenizerHeuristic:
		return heuristic, nil
	case TokenizerRemote:
		base := cfg.GetAPIBase()
		if base == "" {
			base = defaultTextGenAPIBase
		}
		auth := BearerAuth(ParseAPIKey(cfg.GetAPIKey()))
		counter, err := NewRemoteCounter(ActiveProviderName(cfg), base, auth, heuristic)
		if err != nil {
			return nil, err
		}
		return counter, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q: use %s or %s", cfg.Model.Tokenizer, TokenizerHeuristic, TokenizerRemote)
	}
}

func getFactory(cfg *config.Config) (providerFactory, string, error) {
	name := ActiveProviderName(cfg)

	factoryMu.RLock()
	if registrationErr != nil {
		err := registrationErr
		factoryMu.RUnlock()
		return providerFactory{}, name, fmt.Errorf("provider registration failed: %w", err)
	}
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return providerFactory{}, name, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(SupportedProviders(), ", "))
	}
	return factory, name, nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
)

// Provider is one model backend. Stream channels are closed after the finish
// or error event.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

var ErrUnsupportedProvider = errors.New("unsupported model provider")

// requestTimeout caps one completion call. Documentation generation runs very
// long on large repositories, so this is deliberately generous; pipeline
// stages cancel earlier through their own contexts.
const requestTimeout = 16000 * time.Second

// maxRedirects caps redirect chasing on provider endpoints.
const maxRedirects = 5

// New builds the provider named by the configuration.
func New(cfg config.OpenAIConfig) (Provider, error) {
	client := newHTTPClient()
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		return newOpenAI(cfg.Endpoint, cfg.ChatAPIKey, false, client), nil
	case config.ProviderAzureOpenAI:
		return newOpenAI(cfg.Endpoint, cfg.ChatAPIKey, true, client), nil
	case config.ProviderAnthropic:
		return newAnthropic(cfg.Endpoint, cfg.ChatAPIKey, client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.ModelProvider)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

package llm

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Settings selects and configures the embedding and completion backends.
type Settings struct {
	EmbeddingProvider  string
	EmbeddingModel     string
	CompletionProvider string
	CompletionModel    string

	OpenAIKey     string
	OpenAIBaseURL string
	AnthropicKey  string
	OllamaURL     string

	Timeout time.Duration
	// RPS caps requests per second across both clients. Zero disables it.
	RPS float64
}

func (s Settings) limiter() *rate.Limiter {
	if s.RPS <= 0 {
		return nil
	}
	burst := int(s.RPS)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.RPS), burst)
}

// Clients are the model backends built from Settings.
type Clients struct {
	Embedder  Embedder
	Completer Completer
	closers   []func()
}

func (c *Clients) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

func NewClients(s Settings) (*Clients, error) {
	lim := s.limiter()
	out := &Clients{}

	switch s.EmbeddingProvider {
	case ProviderOpenAI, "":
		c := NewOpenAIClient(OpenAIConfig{
			APIKey:         s.OpenAIKey,
			BaseURL:        s.OpenAIBaseURL,
			EmbeddingModel: s.EmbeddingModel,
			Timeout:        s.Timeout,
			Limiter:        lim,
		})
		out.Embedder = c
		out.closers = append(out.closers, c.Close)
	case ProviderOllama:
		c := NewOllamaClient(OllamaConfig{
			BaseURL: s.OllamaURL,
			Model:   s.EmbeddingModel,
			Timeout: s.Timeout,
			Limiter: lim,
		})
		out.Embedder = c
		out.closers = append(out.closers, c.Close)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", s.EmbeddingProvider)
	}

	switch s.CompletionProvider {
	case ProviderOpenAI, "":
		c := NewOpenAIClient(OpenAIConfig{
			APIKey:          s.OpenAIKey,
			BaseURL:         s.OpenAIBaseURL,
			CompletionModel: s.CompletionModel,
			Timeout:         s.Timeout,
			Limiter:         lim,
		})
		out.Completer = c
		out.closers = append(out.closers, c.Close)
	case ProviderAnthropic:
		c := NewAnthropicClient(AnthropicConfig{
			APIKey:  s.AnthropicKey,
			Model:   s.CompletionModel,
			Timeout: s.Timeout,
			Limiter: lim,
		})
		out.Completer = c
		out.closers = append(out.closers, c.Close)
	default:
		out.Close()
		return nil, fmt.Errorf("unknown completion provider %q", s.CompletionProvider)
	}
	return out, nil
}

package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Limiter *rate.Limiter
}

// OllamaClient embeds through a local Ollama server.
type OllamaClient struct {
	baseURL string
	model   string
	caller  *jsonCaller
}

func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		caller: &jsonCaller{
			provider: "ollama",
			client:   &http.Client{Timeout: cfg.Timeout},
			limiter:  cfg.Limiter,
		},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// Older servers answer with a single "embedding".
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: c.model, Input: texts}
	if err := c.caller.post(ctx, "embed", c.baseURL+"/api/embed", req, &resp); err != nil {
		return nil, err
	}
	out := resp.Embeddings
	if len(out) == 0 && len(resp.Embedding) > 0 {
		out = [][]float32{resp.Embedding}
	}
	if len(out) != len(texts) {
		return nil, &ProviderError{
			Provider:   "ollama",
			Op:         "embed",
			StatusCode: http.StatusOK,
			Message:    "embedding count does not match input count",
		}
	}
	return out, nil
}

// Close releases resources.
func (c *OllamaClient) Close() {
	c.caller.close()
}

package llm

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultOpenAIURL             = "https://api.openai.com/v1"
	defaultOpenAIEmbeddingModel  = "text-embedding-3-small"
	defaultOpenAICompletionModel = "gpt-4o-mini"
)

// OpenAIConfig also serves OpenAI-compatible servers (vLLM, LM Studio,
// Ollama's /v1) through BaseURL.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	CompletionModel string
	Timeout         time.Duration
	Limiter         *rate.Limiter
}

// OpenAIClient implements both Embedder and Completer.
type OpenAIClient struct {
	baseURL         string
	embeddingModel  string
	completionModel string
	caller          *jsonCaller
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultOpenAIEmbeddingModel
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = defaultOpenAICompletionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &OpenAIClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		caller: &jsonCaller{
			provider: "openai",
			client:   &http.Client{Timeout: cfg.Timeout},
			limiter:  cfg.Limiter,
			headers:  headers,
		},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embeddingResponse
	req := embeddingRequest{Model: c.embeddingModel, Input: texts}
	if err := c.caller.post(ctx, "embed", c.baseURL+"/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Provider:   "openai",
			Op:         "embed",
			StatusCode: http.StatusOK,
			Message:    "embedding count does not match input count",
		}
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Tools       []chatTool      `json:"tools,omitempty"`
	ToolChoice  *chatToolChoice `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body := chatRequest{
		Model:       c.completionModel,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.Tool != nil {
		body.Tools = []chatTool{{
			Type: "function",
			Function: chatFunction{
				Name:        req.Tool.Name,
				Description: req.Tool.Description,
				Parameters:  req.Tool.Parameters,
			},
		}}
		choice := &chatToolChoice{Type: "function"}
		choice.Function.Name = req.Tool.Name
		body.ToolChoice = choice
	}

	var resp chatResponse
	if err := c.caller.post(ctx, "complete", c.baseURL+"/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			Provider:   "openai",
			Op:         "complete",
			StatusCode: http.StatusOK,
			Message:    "no choices in response",
		}
	}

	msg := resp.Choices[0].Message
	out := &Completion{Model: resp.Model, Text: msg.Content}
	for _, call := range msg.ToolCalls {
		if req.Tool != nil && call.Function.Name == req.Tool.Name {
			out.Arguments = []byte(call.Function.Arguments)
			break
		}
	}
	return out, nil
}

// Close releases resources.
func (c *OpenAIClient) Close() {
	c.caller.close()
}

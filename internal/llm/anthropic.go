package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	defaultAnthropicModel = "claude-sonnet-4-5"
)

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Limiter *rate.Limiter
}

// AnthropicClient calls the Anthropic Messages API for compliance
// assessments. Anthropic has no embeddings endpoint, so it only implements
// Completer.
type AnthropicClient struct {
	model   string
	baseURL string
	caller  *jsonCaller
}

func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &AnthropicClient{
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		caller: &jsonCaller{
			provider: "anthropic",
			client:   &http.Client{Timeout: cfg.Timeout},
			limiter:  cfg.Limiter,
			headers: map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": anthropicVersion,
			},
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one user turn. When req.Tool is set the model is forced
// to call it and the tool input is returned as Arguments.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temp := req.Temperature
	body := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: &temp,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.Tool != nil {
		body.Tools = []anthropicTool{{
			Name:        req.Tool.Name,
			Description: req.Tool.Description,
			InputSchema: req.Tool.Parameters,
		}}
		body.ToolChoice = &anthropicToolChoice{Type: "tool", Name: req.Tool.Name}
	}

	var resp anthropicResponse
	if err := c.caller.post(ctx, "complete", c.baseURL+"/v1/messages", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ProviderError{
			Provider: "anthropic",
			Op:       "complete",
			Message:  fmt.Sprintf("%s: %s", resp.Error.Type, resp.Error.Message),
		}
	}
	if len(resp.Content) == 0 {
		return nil, &ProviderError{Provider: "anthropic", Op: "complete", Message: "empty response"}
	}

	out := &Completion{Model: resp.Model}
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			if req.Tool != nil && block.Name == req.Tool.Name && out.Arguments == nil {
				out.Arguments = block.Input
			}
		case "text":
			text = append(text, block.Text)
		}
	}
	out.Text = strings.Join(text, "\n")
	return out, nil
}

// Close releases resources.
func (c *AnthropicClient) Close() {
	c.caller.close()
}

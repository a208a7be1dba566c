// Package llm holds the embedding and completion clients used for
// retrieval and compliance assessment.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Embedder turns texts into fixed-dimension vectors. The result has one
// vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer runs a single-turn completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ToolSchema describes a structured-output tool the model is forced to call.
// Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type CompletionRequest struct {
	System      string
	Prompt      string
	Tool        *ToolSchema
	Temperature float64
	MaxTokens   int
}

// Completion is the model's reply. Arguments is set when the model called
// the requested tool; Text holds any free-form content.
type Completion struct {
	Arguments json.RawMessage
	Text      string
	Model     string
}

// Structured reports whether the model answered through the tool.
func (c *Completion) Structured() bool {
	return c != nil && len(strings.TrimSpace(string(c.Arguments))) > 0
}

// ProviderError is returned for any failed call to an upstream model API.
// StatusCode is zero for transport failures. A malformed 200 reply keeps
// its status so it is not retried.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	prefix := e.Provider + " " + e.Op
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", prefix, e.StatusCode, truncate(e.Message, 200))
	default:
		return prefix + ": " + truncate(e.Message, 200)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: a transport error,
// rate limiting, or a server-side error.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		if e.Err == nil {
			return false
		}
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

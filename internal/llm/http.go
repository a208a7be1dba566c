package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 16 << 20

// jsonCaller posts JSON bodies to one provider and decodes JSON replies.
type jsonCaller struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	headers  map[string]string
}

func (c *jsonCaller) post(ctx context.Context, op, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &ProviderError{Provider: c.provider, Op: op, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &ProviderError{Provider: c.provider, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{
			Provider:   c.provider,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderError{
			Provider:   c.provider,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

func (c *jsonCaller) close() {
	c.client.CloseIdleConnections()
}

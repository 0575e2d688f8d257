// Package ollama provides an HTTP client for the Ollama API (health check,
// model list and chat completions).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const _defaultTimeout = 2 * time.Minute

// ErrUnreachable indicates the Ollama server could not be reached (connection refused, timeout, or 5xx/404).
var ErrUnreachable = errors.New("ollama server unreachable")

// ErrBadRequest indicates the server rejected the request (4xx other than 404), e.g. unknown model options.
var ErrBadRequest = errors.New("ollama bad request")

// Client calls the Ollama API. Zero value is not valid; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CheckResult is the result of a health/model check.
type CheckResult struct {
	Reachable    bool     // Server responded with 200.
	ModelPresent bool     // Requested model name appears in the tags list.
	ModelNames   []string // All model names from /api/tags (for diagnostics).
}

// GenerateOptions are model runtime options sent in the "options" object.
// Zero fields are omitted so the server default applies.
type GenerateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Message is one chat message. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the non-streaming response of /api/chat.
type ChatResult struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	TotalDuration   int64   `json:"total_duration"`
}

// NewClient builds an Ollama client. baseURL is the API root (e.g. http://localhost:11434).
// If httpClient is nil, a default client with a 2m timeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: _defaultTimeout}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Check verifies the server is reachable and whether the given model is present.
// It GETs /api/tags and parses the response. On connection/HTTP error returns ErrUnreachable (via %w).
func (c *Client) Check(ctx context.Context, model string) (*CheckResult, error) {
	url := c.baseURL + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags: %w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	var body tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ollama tags: parse response: %w", err)
	}
	names := make([]string, 0, len(body.Models))
	modelPresent := false
	for _, m := range body.Models {
		names = append(names, m.Name)
		if m.Name == model {
			modelPresent = true
		}
	}
	return &CheckResult{
		Reachable:    true,
		ModelPresent: modelPresent,
		ModelNames:   names,
	}, nil
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  *GenerateOptions `json:"options,omitempty"`
}

// Chat POSTs a single non-streaming chat completion to /api/chat.
// opts may be nil.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts *GenerateOptions) (*ChatResult, error) {
	var res ChatResult
	body := chatRequest{Model: model, Messages: messages, Options: opts}
	if err := c.post(ctx, "/api/chat", body, &res); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	return &res, nil
}

// post encodes body as JSON, sends it to path and decodes the response into out.
// 404 and 5xx map to ErrUnreachable, other non-2xx to ErrBadRequest.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorBody(resp.Body)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: HTTP %d%s", ErrUnreachable, resp.StatusCode, msg)
		}
		return fmt.Errorf("%w: HTTP %d%s", ErrBadRequest, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// readErrorBody returns ": <error>" from an Ollama {"error": "..."} body, or "".
func readErrorBody(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return ": " + e.Error
	}
	return ": " + strings.TrimSpace(string(data))
}

// Package gemini implements recommend.Completer against the Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mihaimyh/gokeypool/pkg/recommend"
)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com"
	defaultModel       = "gemini-2.0-flash"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 512
)

// Config holds Gemini client configuration
type Config struct {
	// BaseURL of the API (default: https://generativelanguage.googleapis.com)
	BaseURL string

	// Model name, e.g. "gemini-2.0-flash" (default)
	Model string

	// HTTPClient used for requests (default: client with 60s timeout).
	// The per-call deadline comes from the caller's context.
	HTTPClient *http.Client
}

// Client calls models/{model}:generateContent
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Gemini completer
func New(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gemini base URL: %w", err)
	}

	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = defaultModel
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{baseURL: baseURL, model: model, httpClient: httpClient}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// Complete implements recommend.Completer.
// Non-2xx answers are returned as *recommend.ServiceError.
func (c *Client) Complete(ctx context.Context, apiKey, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", serviceError(res.StatusCode, body)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// the recommendation parser degrades on odd text anyway
		return string(body), nil
	}
	if len(parsed.Candidates) == 0 {
		return "", nil
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

func serviceError(status int, body []byte) *recommend.ServiceError {
	svcErr := &recommend.ServiceError{StatusCode: status}

	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		svcErr.Message = e.Error.Message
		for _, d := range e.Error.Details {
			if d.Reason != "" {
				svcErr.Reason = d.Reason
				break
			}
		}
		return svcErr
	}

	msg := []rune(strings.TrimSpace(string(body)))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	svcErr.Message = string(msg)
	return svcErr
}

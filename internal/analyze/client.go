// Package analyze turns extracted note text into structured analysis
// via the Anthropic Messages API: tasks, themes, questions, insights,
// tags, and a summary parsed out of a markdown response.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "inksync/internal/errors"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// APIError is a non-2xx Messages API response.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("anthropic api %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic api %d", e.StatusCode)
}

// Client is a minimal Messages API client: one prompt in, one text
// completion out.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
}

// NewClient creates a Messages API client. A nil httpClient gets a
// generous timeout since completions are slow; a nil logger discards.
func NewClient(apiKey, model string, maxTokens int, temperature float64, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:     defaultBaseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient:  httpClient,
		maxRetries:  3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		logger:      logger,
	}
}

// NewClientFromEnv reads the API key from ANTHROPIC_API_KEY.
func NewClientFromEnv(model string, maxTokens int, temperature float64, logger *slog.Logger) (*Client, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, apperrors.NewInvalidRequest("ANTHROPIC_API_KEY must be set")
	}
	return NewClient(key, model, maxTokens, temperature, nil, logger), nil
}

// SetBaseURL overrides the API endpoint. Tests point this at a local
// httptest server.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single user prompt and returns the concatenated text
// blocks of the response. Overloaded (429, 529) and 5xx responses are
// retried with backoff, honoring retry-after when the API sends one.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode messages request: %w", err)
	}

	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		text, retryAfter, err := c.once(ctx, payload)
		if err == nil {
			return text, nil
		}
		if !retryable(err) {
			return "", err
		}
		if retryAfter > 0 {
			delay = retryAfter
		}
		lastErr = err
		c.logger.Warn("anthropic request failed, retrying", "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("anthropic request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) once(ctx context.Context, payload []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("build messages request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var body messagesResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if decodeErr != nil {
			return "", 0, fmt.Errorf("decode messages response: %w", decodeErr)
		}
		var sb strings.Builder
		for _, block := range body.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", 0, fmt.Errorf("messages response contained no text blocks")
		}
		return sb.String(), 0, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", 0, apperrors.NewUnauthorized("anthropic", apiErrorFrom(resp.StatusCode, body))
	default:
		return "", retryAfterFrom(resp), apiErrorFrom(resp.StatusCode, body)
	}
}

func apiErrorFrom(status int, body messagesResponse) *APIError {
	e := &APIError{StatusCode: status}
	if body.Error != nil {
		e.Type = body.Error.Type
		e.Message = body.Error.Message
	}
	return e
}

func retryAfterFrom(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryable reports whether an error is worth another attempt: rate
// limits, overload, server errors, and transport failures. Auth and
// request-shape errors are not.
func retryable(err error) bool {
	if apperrors.Is(err, apperrors.ErrUnauthorized) {
		return false
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == 529 ||
			apiErr.StatusCode >= 500
	}
	// Transport-level failure.
	return true
}

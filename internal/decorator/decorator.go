// Package decorator generates the optional one-line message attached to a
// stress update. The generator is an OpenAI-compatible chat completion
// endpoint guarded by a circuit breaker; Fallback turns every failure into a
// static string so the update is never held back.
package decorator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

const (
	breakerName     = "decorator"
	maxResponseBody = 64 << 10
	maxMessageRunes = 200
)

var errEmptyCompletion = errors.New("empty completion")

type Options struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	// HTTPClient is optional; tests inject httptest clients.
	HTTPClient *http.Client
}

// Client calls the chat completion endpoint.
type Client struct {
	opts       Options
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

var _ domain.Decorator = (*Client)(nil)

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{opts: opts, httpClient: httpClient, cb: cb}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.opts.URL != ""
}

func (c *Client) Decorate(ctx context.Context, username string, level int, isSuperstress bool) (string, error) {
	if !c.Enabled() {
		return "", domain.ErrDecoratorOff
	}

	text, err := c.cb.Execute(func() (any, error) {
		return c.complete(ctx, prompt(username, level, isSuperstress))
	})
	if err != nil {
		return "", err
	}
	return text.(string), nil
}

func prompt(username string, level int, isSuperstress bool) string {
	if isSuperstress {
		return fmt.Sprintf("%s just hit the SUPERSTRESS button. Reply with one short, kind, funny sentence to cheer them up.", username)
	}
	return fmt.Sprintf("%s reports a stress level of %d out of 100. Reply with one short, kind, funny sentence that fits that level.", username, level)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write one-line encouragements for a workplace stress tracker."},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: 60,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		return "", fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, msg)
	}

	text := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if text == "" {
		return "", errEmptyCompletion
	}
	return truncate(text, maxMessageRunes), nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

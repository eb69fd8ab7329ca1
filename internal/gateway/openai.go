package gateway

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

	"github.com/sony/gobreaker"

	"promptmeter/internal/metrics"
	"promptmeter/internal/model"
)

const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultModel        = "gpt-3.5-turbo"
	DefaultSystemPrompt = "You are a helpful AI assistant. Answer clearly and in detail."
	DefaultTemperature  = 0.7
	DefaultAuthCooldown = 10 * time.Minute

	maxResponseBytes = 1 << 20
)

// ErrDisabled is wrapped into auth failures returned while the breaker is open.
var ErrDisabled = errors.New("gateway disabled after authentication failure")

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	// AuthCooldown is how long the gateway refuses calls after the provider
	// rejected the credentials before probing it again.
	AuthCooldown time.Duration
}

// OpenAIGateway sends single-turn prompts to an OpenAI-compatible chat
// completions endpoint and classifies every failure into a model.FailureReason.
type OpenAIGateway struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func NewOpenAIGateway(cfg Config) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.AuthCooldown <= 0 {
		cfg.AuthCooldown = DefaultAuthCooldown
	}

	g := &OpenAIGateway{
		cfg: cfg,
		// Per-call deadlines come from the timeout argument of Complete.
		httpClient: &http.Client{},
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     cfg.AuthCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		// Only rejected credentials count against the breaker; transient
		// provider trouble is reported per request.
		IsSuccessful: func(err error) bool {
			return err == nil || model.GatewayReason(err) != model.ReasonAuthFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("gateway: circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return g, nil
}

// Available reports whether the gateway currently accepts calls.
func (g *OpenAIGateway) Available() bool {
	return g.breaker.State() != gobreaker.StateOpen
}

// Complete returns the provider's answer to prompt. A non-positive timeout
// leaves the deadline to ctx.
func (g *OpenAIGateway) Complete(ctx context.Context, prompt string, maxOutputTokens int, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.complete(ctx, prompt, maxOutputTokens)
	})
	metrics.GatewayRequestDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			err = &model.GatewayError{Reason: model.ReasonAuthFailure, Err: fmt.Errorf("%w: %w", ErrDisabled, err)}
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			// Half-open: another call is already re-checking the credentials.
			err = &model.GatewayError{Reason: model.ReasonProviderUnavailable, Err: err}
		}
		metrics.GatewayRequestsTotal.WithLabelValues(g.cfg.Model, string(model.GatewayReason(err))).Inc()
		return "", err
	}

	metrics.GatewayRequestsTotal.WithLabelValues(g.cfg.Model, "ok").Inc()
	return res.(string), nil
}

func (g *OpenAIGateway) complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: g.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxOutputTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fail(model.ReasonUnknown, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fail(model.ReasonUnknown, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Deadline, cancellation, DNS and connection errors alike.
		return "", fail(model.ReasonProviderUnavailable, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fail(model.ReasonProviderUnavailable, fmt.Errorf("failed to read response: %w", err))
	}

	if reason, failed := classifyStatus(resp.StatusCode); failed {
		slog.Error("gateway: provider returned an error",
			"status", resp.StatusCode,
			"reason", reason,
			"x_request_id", resp.Header.Get("X-Request-Id"),
			"body", snippet(responseBody, 512),
		)
		return "", fail(reason, fmt.Errorf("OpenAI API error (status %d)", resp.StatusCode))
	}

	var chat chatResponse
	if err := json.Unmarshal(responseBody, &chat); err != nil {
		return "", fail(model.ReasonUnknown, fmt.Errorf("failed to parse response: %w", err))
	}

	if len(chat.Choices) == 0 {
		return "", fail(model.ReasonEmptyResponse, errors.New("no choices in response"))
	}
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if content == "" {
		return "", fail(model.ReasonEmptyResponse, fmt.Errorf("blank content (finish_reason %q)", chat.Choices[0].FinishReason))
	}

	return content, nil
}

func classifyStatus(status int) (model.FailureReason, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return model.ReasonAuthFailure, true
	case status == http.StatusTooManyRequests:
		return model.ReasonRateLimited, true
	case status >= 500:
		return model.ReasonProviderUnavailable, true
	default:
		return model.ReasonUnknown, true
	}
}

func fail(reason model.FailureReason, err error) error {
	return &model.GatewayError{Reason: reason, Err: err}
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/arztflow/pipeline/pkg/pipelineerr"
)

const defaultTimeout = 120 * time.Second

// HTTPClient calls a chat-completions-style provider per §6.2:
// POST {base_url}/chat/completions with a bearer token. Transport
// errors and 5xx responses retry with exponential backoff (base
// 500ms, cap 8s, jitter ±25%, ≤3 attempts total) independently of a
// step's own retry policy, matching §4.H step 4 exactly. A circuit
// breaker trips after repeated failures so a dead endpoint fails fast
// instead of re-exhausting the backoff schedule on every step.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "llm-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var lastErr error
	var result *CompleteResponse

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 8 * time.Second
	bo.RandomizationFactor = 0.25
	bo.Multiplier = 2

	operation := func() error {
		res, err := c.doOnce(ctx, req, timeout)
		if err != nil {
			lastErr = err
			if kind, ok := pipelineerr.KindOf(err); ok && !kind.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	boWithCtx := backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)
	if err := backoff.Retry(operation, boWithCtx); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) doOnce(ctx context.Context, req CompleteRequest, timeout time.Duration) (*CompleteResponse, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, req, timeout)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, pipelineerr.Wrap(pipelineerr.KindModelUnavailable, "", err)
		}
		return nil, err
	}
	return out.(*CompleteResponse), nil
}

func (c *HTTPClient) call(ctx context.Context, req CompleteRequest, timeout time.Duration) (*CompleteResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindSchemaError, "", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindTransientTransport, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindTransientTransport, "", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindTransientTransport, "", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, pipelineerr.New(pipelineerr.KindAuthFailure, "", fmt.Sprintf("provider rejected credentials: %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pipelineerr.New(pipelineerr.KindQuotaExceeded, "", "provider rate limit exceeded")
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, pipelineerr.New(pipelineerr.KindModelUnavailable, "", "provider reports model unavailable")
	case resp.StatusCode >= 500:
		return nil, pipelineerr.New(pipelineerr.KindTransientTransport, "", fmt.Sprintf("provider 5xx: %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, pipelineerr.New(pipelineerr.KindSchemaError, "", fmt.Sprintf("provider rejected request: %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindSchemaError, "", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, pipelineerr.New(pipelineerr.KindSchemaError, "", "provider response had no choices")
	}

	text := parsed.Choices[0].Message.Content
	inputTokens := parsed.Usage.PromptTokens
	outputTokens := parsed.Usage.CompletionTokens
	estimated := false
	if inputTokens == 0 && outputTokens == 0 {
		estimated = true
		for _, m := range req.Messages {
			inputTokens += EstimateTokens(m.Content)
		}
		outputTokens = EstimateTokens(text)
	}

	return &CompleteResponse{
		Text:         text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMs:    latency,
		Estimated:    estimated,
	}, nil
}

package privacy

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
)

// HTTPClient calls the remote Privacy Filter service (§6.3) and falls
// back to LocalFilter when the remote is unreachable after retries,
// flagging the result as degraded. This is the fail-open half of the
// masking service's two-mode split (MaskAlertData in the teacher):
// a privacy-filter outage must not block document processing.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	fallback   *LocalFilter
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		fallback:   NewLocalFilter(),
		logger:     logger,
	}
}

type removePIIRequest struct {
	Text                 string   `json:"text"`
	Language             string   `json:"language"`
	IncludeMetadata      bool     `json:"include_metadata"`
	CustomProtectionTerms []string `json:"custom_protection_terms,omitempty"`
}

type removePIIResponse struct {
	CleanedText      string   `json:"cleaned_text"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	LanguageUsed     string   `json:"language_used"`
	Metadata         struct {
		PlaceholdersUsed []string `json:"placeholders_used"`
	} `json:"metadata"`
}

// RemovePII implements Client, retrying transient failures before
// degrading to the local filter.
func (c *HTTPClient) RemovePII(ctx context.Context, text, language string, protectedTerms []string) (*Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 4 * time.Second
	bo.RandomizationFactor = 0.25

	var result *Result
	operation := func() error {
		res, err := c.call(ctx, text, language, protectedTerms)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
		c.logger.Warn("privacy filter unreachable, degrading to local regex filter", "error", err)
		return c.fallback.RemovePII(ctx, text, language, protectedTerms)
	}
	return result, nil
}

func (c *HTTPClient) call(ctx context.Context, text, language string, protectedTerms []string) (*Result, error) {
	body, err := json.Marshal(removePIIRequest{
		Text:                  text,
		Language:              language,
		IncludeMetadata:       true,
		CustomProtectionTerms: protectedTerms,
	})
	if err != nil {
		return nil, fmt.Errorf("privacy: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/remove-pii", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("privacy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("privacy: transport: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("privacy: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("privacy: service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("privacy: service rejected request: %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed removePIIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("privacy: decode response: %w", err))
	}

	return &Result{
		CleanedText: parsed.CleanedText,
		Metadata: Metadata{
			Degraded:         false,
			PlaceholdersUsed: parsed.Metadata.PlaceholdersUsed,
			ProcessingTimeMs: parsed.ProcessingTimeMs,
			LanguageUsed:     parsed.LanguageUsed,
		},
	}, nil
}

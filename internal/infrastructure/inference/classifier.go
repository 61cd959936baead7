// Package inference contains HTTP adapters for the external classifier
// and embedding services.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"NewsRefinery/internal/config"
	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

// HTTPClassifier grades articles through the classifier service.
type HTTPClassifier struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

var _ ports.Classifier = (*HTTPClassifier)(nil)

type classifyRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type classifyResponse struct {
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// NewHTTPClassifier builds a client from configuration.
func NewHTTPClassifier(cfg config.ClassifierConfig) *HTTPClassifier {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &HTTPClassifier{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: retries,
	}
}

// Classify grades one article. Transient failures (429, 5xx, truncated
// responses) are retried with backoff; a verdict that fails validation
// is an error, never a partial result.
func (c *HTTPClassifier) Classify(ctx context.Context, title, summary string) (domain.Prediction, error) {
	body, err := json.Marshal(classifyRequest{Title: title, Summary: summary})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("classify: marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, body)
	if err != nil {
		return domain.Prediction{}, err
	}

	pred := domain.Prediction{
		Label:        domain.Label(resp.Label),
		Confidence:   resp.Confidence,
		ModelVersion: resp.ModelVersion,
	}
	if !pred.Label.Valid() {
		return domain.Prediction{}, fmt.Errorf("classify: unknown label %q", resp.Label)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		return domain.Prediction{}, fmt.Errorf("classify: confidence %g out of range", pred.Confidence)
	}
	if pred.ModelVersion == "" {
		return domain.Prediction{}, fmt.Errorf("classify: missing model version")
	}

	return pred, nil
}

func (c *HTTPClassifier) doWithRetry(ctx context.Context, reqBody []byte) (classifyResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyResponse{}, fmt.Errorf("classify: rate limiter wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return classifyResponse{}, fmt.Errorf("classify: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return classifyResponse{}, fmt.Errorf("classify: request cancelled: %w", ctx.Err())
			}
			return classifyResponse{}, fmt.Errorf("classify: request failed: %w", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return classifyResponse{}, fmt.Errorf("classify: read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var parsed classifyResponse
			if err := json.Unmarshal(body, &parsed); err != nil {
				// Truncated responses happen under load, retry them.
				lastErr = fmt.Errorf("classify: parse response: %w", err)
				if err := sleepBackoff(ctx, attempt, c.maxRetries, resp.Header); err != nil {
					return classifyResponse{}, err
				}
				continue
			}
			return parsed, nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable {
			return classifyResponse{}, fmt.Errorf("classify: status %d: %s", resp.StatusCode, string(body))
		}

		lastErr = fmt.Errorf("classify: status %d: %s", resp.StatusCode, string(body))
		if err := sleepBackoff(ctx, attempt, c.maxRetries, resp.Header); err != nil {
			return classifyResponse{}, err
		}
	}

	return classifyResponse{}, fmt.Errorf("classify: all retries exhausted: %w", lastErr)
}

// sleepBackoff waits before the next attempt, doubling the delay per
// attempt and honoring a Retry-After header when present. After the
// final attempt it returns immediately.
func sleepBackoff(ctx context.Context, attempt, maxRetries int, header http.Header) error {
	if attempt >= maxRetries {
		return nil
	}

	delay := time.Second << attempt
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}

	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			delay = time.Duration(seconds) * time.Second
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
		}
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled during retry: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

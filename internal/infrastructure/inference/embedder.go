package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"NewsRefinery/internal/config"
	"NewsRefinery/internal/ports"
)

// HTTPEmbedder computes title vectors through the embedding service.
type HTTPEmbedder struct {
	endpoint   string
	apiKey     string
	model      string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	batchSize  int
}

var _ ports.Embedder = (*HTTPEmbedder)(nil)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEmbedder builds a client from configuration.
func NewHTTPEmbedder(cfg config.EmbedderConfig) *HTTPEmbedder {
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

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}

	return &HTTPEmbedder{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: retries,
		batchSize:  batch,
	}
}

// Model names the embedding model in use.
func (e *HTTPEmbedder) Model() string {
	return e.model
}

// Embed computes the vector for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch computes vectors for all texts, preserving input order.
// Requests are split into service-sized chunks.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		vectors, err := e.embedChunk(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed: chunk starting at %d: %w", start, err)
		}
		if len(vectors) != len(chunk) {
			return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(vectors), len(chunk))
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return nil, fmt.Errorf("embed: empty vector for input %d", start+i)
			}
		}

		results = append(results, vectors...)
	}

	return results, nil
}

func (e *HTTPEmbedder) embedChunk(ctx context.Context, chunk []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: chunk})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var parsed embedResponse
			if err := json.Unmarshal(payload, &parsed); err != nil {
				lastErr = fmt.Errorf("parse response: %w", err)
				if err := sleepBackoff(ctx, attempt, e.maxRetries, resp.Header); err != nil {
					return nil, err
				}
				continue
			}
			return parsed.Embeddings, nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(payload))
		}

		lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(payload))
		if err := sleepBackoff(ctx, attempt, e.maxRetries, resp.Header); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
}

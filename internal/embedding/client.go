// Package embedding is the client for the remote vision-embedding service.
// The service turns a page image into a fixed-size grid of patch vectors and
// a query string into a small fixed-size vector set. Both calls are
// idempotent and safe to retry.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/errdefs"
)

const (
	taskImage = "image"
	taskQuery = "query"
)

type Client struct {
	url        string
	token      string
	dim        int
	batchSize  int
	batchWait  time.Duration
	httpClient *http.Client
}

func NewClient(cfg config.EmbedderConfig) *Client {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 3
	}
	return &Client{
		url:        cfg.URL,
		token:      cfg.Token,
		dim:        cfg.Dim,
		batchSize:  batchSize,
		batchWait:  cfg.BatchWait,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type embedRequest struct {
	Input embedInput `json:"input"`
}

type embedInput struct {
	Task      string   `json:"task"`
	InputData []string `json:"input_data"`
}

type embedResponse struct {
	Output struct {
		Data []struct {
			Embedding [][]float32 `json:"embedding"`
			Index     int         `json:"index"`
		} `json:"data"`
	} `json:"output"`
}

// EmbedPages returns one patch-vector set per page image, preserving input
// order. Images are sent in small batches with a pause in between so the
// embedding service is not overloaded.
func (c *Client) EmbedPages(ctx context.Context, images [][]byte) ([][][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	var all [][][]float32
	for i := 0; i < len(encoded); i += c.batchSize {
		end := i + c.batchSize
		if end > len(encoded) {
			end = len(encoded)
		}

		sets, err := c.embed(ctx, taskImage, encoded[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/c.batchSize, err)
		}
		all = append(all, sets...)

		if end < len(encoded) && c.batchWait > 0 {
			select {
			case <-time.After(c.batchWait):
			case <-ctx.Done():
				return nil, fmt.Errorf("embed pages: %w", errdefs.ErrTimeout)
			}
		}
	}
	return all, nil
}

// EmbedQuery returns the vector set for a query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	sets, err := c.embed(ctx, taskQuery, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("embedding service returned no query vectors: %w", errdefs.ErrModelError)
	}
	return sets[0], nil
}

func (c *Client) embed(ctx context.Context, task string, inputs []string) ([][][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: embedInput{Task: task, InputData: inputs}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("embedding service: %w", errdefs.ErrTimeout)
		}
		return nil, fmt.Errorf("embedding service: %v: %w", err, errdefs.ErrModelError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service status %d: %w", resp.StatusCode, errdefs.ErrModelError)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, errdefs.ErrModelError)
	}
	if len(out.Output.Data) != len(inputs) {
		return nil, fmt.Errorf("asked for %d embeddings, got %d: %w",
			len(inputs), len(out.Output.Data), errdefs.ErrModelError)
	}

	sets := make([][][]float32, len(out.Output.Data))
	for i, d := range out.Output.Data {
		for j, v := range d.Embedding {
			if len(v) != c.dim {
				return nil, fmt.Errorf("embedding %d vector %d has width %d, want %d: %w",
					i, j, len(v), c.dim, errdefs.ErrDimensionMismatch)
			}
		}
		sets[i] = d.Embedding
	}

	slog.Debug("embedded batch", "task", task, "inputs", len(inputs), "took", time.Since(start))
	return sets, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

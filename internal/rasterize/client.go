// Package rasterize is the client for the remote rasterizer service, which
// turns a document source (URL or inline bytes) into an ordered sequence of
// page images.
package rasterize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/errdefs"
)

// Source is a document source reference. Exactly one of URL or Data is set.
type Source struct {
	URL      string
	Data     []byte
	Filename string
}

type Client struct {
	url        string
	maxSize    int64
	httpClient *http.Client
}

func NewClient(cfg config.RasterizerConfig) *Client {
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = 50 << 20
	}
	return &Client{
		url:        cfg.URL,
		maxSize:    maxSize,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type rasterizeRequest struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type rasterizeResponse struct {
	Pages []string `json:"pages"` // base64 PNG, 1-based order
}

// Rasterize converts source into page images. The returned iterator is
// finite, ordered, and consume-once.
func (c *Client) Rasterize(ctx context.Context, source Source) (*PageIter, error) {
	if source.URL == "" && len(source.Data) == 0 {
		return nil, fmt.Errorf("source needs a url or inline data: %w", errdefs.ErrInvalidArgument)
	}
	if int64(len(source.Data)) > c.maxSize {
		return nil, fmt.Errorf("document exceeds %d bytes: %w", c.maxSize, errdefs.ErrUnsupportedFormat)
	}

	req := rasterizeRequest{URL: source.URL, Filename: source.Filename}
	if len(source.Data) > 0 {
		req.Data = base64.StdEncoding.EncodeToString(source.Data)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rasterizer: %v: %w", err, errdefs.ErrFetchError)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rasterizer status %d: %w", resp.StatusCode, errdefs.ErrUnsupportedFormat)
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rasterizer status %d: %w", resp.StatusCode, errdefs.ErrFetchError)
	}

	var out rasterizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, errdefs.ErrFetchError)
	}
	if len(out.Pages) == 0 {
		return nil, fmt.Errorf("rasterizer produced no pages: %w", errdefs.ErrUnsupportedFormat)
	}

	return &PageIter{pages: out.Pages}, nil
}

// PageIter walks page images in order. Each page is decoded once; Next
// returns io.EOF after the last page.
type PageIter struct {
	pages []string
	next  int
}

// NewPageIter builds an iterator over already-decoded page images.
func NewPageIter(images [][]byte) *PageIter {
	pages := make([]string, len(images))
	for i, img := range images {
		pages[i] = base64.StdEncoding.EncodeToString(img)
	}
	return &PageIter{pages: pages}
}

// Next returns the next page image and its 1-based page number.
func (it *PageIter) Next() ([]byte, int, error) {
	if it.next >= len(it.pages) {
		return nil, 0, io.EOF
	}
	img, err := base64.StdEncoding.DecodeString(it.pages[it.next])
	if err != nil {
		return nil, 0, fmt.Errorf("decode page %d: %v: %w", it.next+1, err, errdefs.ErrFetchError)
	}
	it.next++
	return img, it.next, nil
}

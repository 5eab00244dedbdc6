// Package imgembed provides document image encoders: an HTTP client for a
// CLIP-style embedding service and a local perceptual average-hash encoder.
package imgembed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls an image embedding service that accepts
// {"image": "<base64>"} and answers {"embedding": [...]}.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a Client posting to url.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

type embedReq struct {
	Image string `json:"image"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// EmbedImage returns the embedding of img.
func (c *Client) EmbedImage(ctx context.Context, img []byte) ([]float32, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("imgembed: empty image")
	}
	body, err := json.Marshal(embedReq{Image: base64.StdEncoding.EncodeToString(img)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imgembed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imgembed: status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("imgembed decode: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("imgembed: empty embedding")
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

package ollama

import (
	"context"
	"fmt"
	"strings"
)

type generateReq struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	if c.genModel == "" {
		return "", fmt.Errorf("ollama generate: no model configured")
	}
	var result generateResp
	req := generateReq{
		Model:   c.genModel,
		Prompt:  prompt,
		System:  system,
		Options: map[string]any{"temperature": 0.3},
	}
	if err := c.post(ctx, "/api/generate", req, &result); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(result.Response), nil
}

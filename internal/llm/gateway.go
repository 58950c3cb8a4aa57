package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Gateway talks to an OpenAI-compatible chat-completions endpoint.
type Gateway struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewGateway(url, apiKey, model string) (*Gateway, error) {
	if url == "" || apiKey == "" {
		return nil, fmt.Errorf("llm gateway not configured")
	}
	// per-call deadlines come from the caller's context
	return &Gateway{url: url, apiKey: apiKey, model: model, client: &http.Client{}}, nil
}

func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("gateway: marshal request: %w: %w", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gateway: new request: %w: %w", ErrGeneration, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", classify(ctx, "gateway", false, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", classify(ctx, "gateway", false, statusError{code: resp.StatusCode, msg: msg})
	}

	content := extractContentFromChoices(body)
	if content == "" {
		return "", fmt.Errorf("gateway: no content in response: %w", ErrGeneration)
	}
	return content, nil
}

// extractContentFromChoices reads openai-style choices[0].message.content
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return strings.TrimSpace(content)
}

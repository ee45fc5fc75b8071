// Package localllm adapts any OpenAI-compatible chat completions server
// (LM Studio, Ollama's compatibility layer) to the model gateway interface.
package localllm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"nutrichef/internal/gateway"
)

// Client is a client for a local OpenAI-compatible LLM server.
type Client struct {
	httpClient *http.Client
	apiURL     string
	model      string
}

// NewClient creates a new local LLM gateway.
func NewClient(apiURL, model string) *Client {
	return &Client{
		httpClient: &http.Client{},
		apiURL:     apiURL,
		model:      model,
	}
}

// Request represents the chat completions request body.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Message represents a message in the request.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Content represents one block of a multimodal message.
type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents the image URL in the content.
type ImageURL struct {
	URL string `json:"url"`
}

// Response represents the chat completions response.
type Response struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DescribeImage sends one image plus instruction text as a multimodal message.
func (c *Client) DescribeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	messages := []Message{{
		Role: "user",
		Content: []Content{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + encoded}},
		},
	}}
	return c.complete(ctx, messages)
}

// GenerateText sends a text-only prompt, with an optional system preamble.
func (c *Client) GenerateText(ctx context.Context, prompt, system string) (string, error) {
	var messages []Message
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})
	return c.complete(ctx, messages)
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := Request{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.4,
		MaxTokens:   2048,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: local llm: %v", gateway.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: local llm returned status %d", gateway.ErrUnavailable, resp.StatusCode)
	}

	var llmResp Response
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(llmResp.Choices) == 0 {
		return "", fmt.Errorf("no content found in response")
	}
	return llmResp.Choices[0].Message.Content, nil
}

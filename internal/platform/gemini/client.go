// Package gemini adapts the Google Gemini API to the model gateway interface.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"nutrichef/internal/gateway"
)

// Client calls Gemini through the official SDK.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini-backed gateway.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// DescribeImage sends one image plus instruction text and returns the raw
// model response.
func (c *Client) DescribeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	m := c.client.GenerativeModel(c.model)
	resp, err := m.GenerateContent(ctx, genai.ImageData(imageFormat(image), image), genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini image call: %v", gateway.ErrUnavailable, err)
	}
	return firstText(resp)
}

// GenerateText sends a text prompt, with an optional system preamble.
func (c *Client) GenerateText(ctx context.Context, prompt, system string) (string, error) {
	// A fresh GenerativeModel per call: SystemInstruction is per-request
	// state and the client is shared across requests.
	m := c.client.GenerativeModel(c.model)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini text call: %v", gateway.ErrUnavailable, err)
	}
	return firstText(resp)
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response format from gemini")
	}
	return string(text), nil
}

// imageFormat sniffs the image subtype the SDK wants ("jpeg", "png", ...).
func imageFormat(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "jpeg"
	}
	return strings.TrimPrefix(mime, "image/")
}

package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/image-captioner/pkg/client"
)

// DefaultTimeout bounds a Describe call when ctx carries no deadline.
const DefaultTimeout = 300 * time.Second

// Client captions images with an Ollama-hosted vision model
type Client struct {
	client *api.Client
	model  string
}

var _ client.Describer = (*Client)(nil)

// NewClient creates a new Ollama client for model
func NewClient(ollamaURL, model string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}
	if model == "" {
		return nil, errors.New("model name is required")
	}

	// Strip paths like /api/chat; the SDK adds its own.
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
	}, nil
}

// Name identifies the backend in logs and metrics
func (c *Client) Name() string {
	return "ollama:" + c.model
}

// Describe returns a raw caption for a base64 encoded image.
func (c *Client) Describe(ctx context.Context, imgB64 string) (string, error) {
	reply, err := c.SimpleQuery(ctx, client.CaptionPrompt, imgB64)
	if err != nil {
		return "", fmt.Errorf("%w: %w", client.ErrInferenceFailure, err)
	}
	caption := client.CleanCaption(reply)
	if caption == "" {
		return "", fmt.Errorf("%w: empty response from ollama", client.ErrInferenceFailure)
	}
	return caption, nil
}

// SimpleQuery sends one prompt with an image and returns the reply text
func (c *Client) SimpleQuery(ctx context.Context, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream: &streamFalse,
		// Short, repeatable captions.
		Options: map[string]any{
			"temperature": 0,
			"num_predict": 48,
		},
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	return responseContent, nil
}

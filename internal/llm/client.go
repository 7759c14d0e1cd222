// Package llm writes image prompts with an OpenAI-compatible chat model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

const (
	systemPrompt = "You write short, concrete prompts for an image generation model. Reply with the prompt only."

	maxTokens    = 200 // per reply; ClampPrompt trims any overshoot
	maxReplySize = 1 << 20
)

// Client is a prompt writer backed by a chat completions endpoint.
type Client struct {
	BaseURL string // full chat completions URL
	APIKey  string
	Model   string

	HTTPClient *http.Client
}

var _ enrich.PromptWriter = (*Client)(nil)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionReply struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// WritePrompt asks the model for an image prompt describing rec.
func (c *Client) WritePrompt(ctx context.Context, rec story.Record) (string, error) {
	reply, err := c.Complete(ctx, enrich.MetaPrompt(rec))
	if err != nil {
		return "", err
	}
	prompt := enrich.ClampPrompt(reply)
	if prompt == "" {
		return "", fmt.Errorf("llm: empty prompt for %s", rec.ID)
	}
	return prompt, nil
}

// Complete sends instruction under the prompt-writer system message and
// returns the first choice. Authentication and request errors are marked
// permanent; throttling and server errors are not.
func (c *Client) Complete(ctx context.Context, instruction string) (string, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", enrich.Permanent(errors.New("llm: base URL and model required"))
	}
	body, err := json.Marshal(completionRequest{
		Model: c.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: instruction},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", enrich.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return "", fmt.Errorf("llm: read reply: %w", err)
	}

	var reply completionReply
	decodeErr := json.Unmarshal(raw, &reply)
	if resp.StatusCode/100 != 2 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if decodeErr == nil && reply.Error != nil {
			msg += ": " + reply.Error.Message
		}
		return "", statusError(resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("llm: decode reply: %w", decodeErr)
	}
	if reply.Error != nil {
		return "", fmt.Errorf("llm: %s", reply.Error.Message)
	}
	if len(reply.Choices) == 0 {
		return "", errors.New("llm: reply has no choices")
	}
	return strings.TrimSpace(reply.Choices[0].Message.Content), nil
}

func statusError(status int, msg string) error {
	err := fmt.Errorf("llm: %s", msg)
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return err
	default:
		return enrich.Permanent(err)
	}
}

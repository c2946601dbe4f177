// internal/gpt/client.go
package gpt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Request is one call to the inference backend.
type Request struct {
	System    string
	Prompt    string
	Image     []byte
	ImageMIME string
}

type Completion struct {
	Content string
	Tokens  int
}

// Backend performs a single completion. Errors wrap ErrRateLimited or
// ErrUpstream.
type Backend interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

func (c *Client) Complete(ctx context.Context, r Request) (Completion, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(r.Image) > 0 {
		mime := r.ImageMIME
		if mime == "" {
			mime = http.DetectContentType(r.Image)
		}
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: r.Prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		}
	} else {
		user.Content = r.Prompt
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.System},
			user,
		},
		MaxTokens:      600,
		Temperature:    0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, classify(err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: no response from GPT API", ErrUpstream)
	}

	return Completion{Content: resp.Choices[0].Message.Content, Tokens: resp.Usage.TotalTokens}, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// Package ai adapts a streaming chat-completion API to the relay's token
// producer contract.
package ai

import (
	"context"
	"errors"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"chatrelay/internal/relay"
)

// Message is one turn of conversation history handed to the model.
type Message struct {
	Role    string
	Content string
}

// RoleForSender maps a transcript sender to a chat role. AI-originated
// events carry no sender or one of the assistant aliases.
func RoleForSender(from string) string {
	switch from {
	case "", "AI", "AI Assistant", "assistant":
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

type Client struct {
	oc    *openai.Client
	model string
	log   *zap.Logger
}

func NewClient(apiKey, baseURL, model, apiVersion string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if apiVersion != "" {
		cfg.HTTPClient = &http.Client{
			Transport: apiVersionTransport{version: apiVersion, next: http.DefaultTransport},
		}
	}
	return &Client{
		oc:    openai.NewClientWithConfig(cfg),
		model: model,
		log:   zap.L(),
	}, nil
}

// ChatStream opens a streaming completion for prompt against the given
// history. Recv on the underlying stream blocks on network I/O, so the
// iteration is bridged through a BlockingStream: the relay consumes
// fragments at its own pace and cancellation stops the producer promptly.
func (c *Client) ChatStream(ctx context.Context, prompt string, history []Message) relay.TokenStream {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
		Stream:      true,
	}

	return relay.NewBlockingStream(func(emit func(string) bool) error {
		stream, err := c.oc.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !emit(delta) {
				return nil
			}
		}
	})
}

// apiVersionTransport appends the api-version query parameter expected by
// Azure-hosted model endpoints.
type apiVersionTransport struct {
	version string
	next    http.RoundTripper
}

func (t apiVersionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	q := req.URL.Query()
	q.Set("api-version", t.version)
	req.URL.RawQuery = q.Encode()
	return t.next.RoundTrip(req)
}

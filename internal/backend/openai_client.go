package backend

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// OpenAIClient wraps the OpenAI SDK client for a single Descriptor.
type OpenAIClient struct {
	client openai.Client
	desc   Descriptor
}

// NewOpenAIClient builds an OpenAIClient pointed at desc.BaseURL/Auth.
func NewOpenAIClient(desc Descriptor) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(desc.Auth),
	}
	if desc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(desc.BaseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		desc:   desc,
	}
}

// Descriptor returns the backend this client was built from.
func (c *OpenAIClient) Descriptor() Descriptor { return c.desc }

// ChatCompletion issues a non-streaming chat completion call.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// ChatCompletionStream issues a streaming chat completion call. The caller
// owns the returned stream's lifecycle (Next/Current/Err/Close).
func (c *OpenAIClient) ChatCompletionStream(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	return c.client.Chat.Completions.NewStreaming(ctx, params)
}

package backend

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicClient wraps the Anthropic SDK client for passthrough backends
// (spec.md §4.5.1 rule 2: a backend whose APIStyle is anthropic skips C1-C4
// entirely and is forwarded to verbatim).
type AnthropicClient struct {
	client anthropic.Client
	desc   Descriptor
}

// NewAnthropicClient builds an AnthropicClient pointed at desc.BaseURL/Auth.
func NewAnthropicClient(desc Descriptor) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(desc.Auth),
	}
	if desc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(desc.BaseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		desc:   desc,
	}
}

// Descriptor returns the backend this client was built from.
func (c *AnthropicClient) Descriptor() Descriptor { return c.desc }

// MessagesNew forwards a non-streaming Messages request unchanged.
func (c *AnthropicClient) MessagesNew(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}

// MessagesNewStreaming forwards a streaming Messages request unchanged.
// The caller owns the returned stream's lifecycle.
func (c *AnthropicClient) MessagesNewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return c.client.Messages.NewStreaming(ctx, params)
}

// MessagesCountTokens forwards a count_tokens request unchanged.
func (c *AnthropicClient) MessagesCountTokens(ctx context.Context, params anthropic.MessageCountTokensParams) (*anthropic.MessageTokensCount, error) {
	return c.client.Messages.CountTokens(ctx, params)
}

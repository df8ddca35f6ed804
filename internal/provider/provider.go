// Package provider implements the L1 Provider Abstraction: a unified
// streaming interface over Anthropic, OpenAI, and Bedrock backends, plus
// the model-fallback orchestration that sits in front of them.
package provider

import (
	"context"

	"github.com/magi-project/magi/pkg/wire"
)

// CompletionRequest is everything a backend needs to start a stream.
type CompletionRequest struct {
	Model     string
	System    string
	History   []wire.ConversationItem
	Tools     []wire.MaterializedToolDefinition
	MaxTokens int
	Thinking  bool
}

// Provider is the interface every LLM backend implements. A single Stream
// call returns a channel of wire.Event values ending in exactly one of
// EventMessageComplete or EventError (spec §4.2's streaming contract).
type Provider interface {
	// Name returns the provider's identifier, e.g. "anthropic".
	Name() string

	// Stream starts a completion and streams wire.Event values as the
	// model produces them. The channel is closed after the terminal event.
	Stream(ctx context.Context, req CompletionRequest) (<-chan wire.Event, error)

	// SupportsModel reports whether this backend can serve the given model id.
	SupportsModel(model string) bool

	// SupportsTools reports whether this backend can receive tool definitions.
	SupportsTools() bool
}

// ImageFallback is implemented by providers that can turn an image into a
// text description when the target model lacks vision support (spec §4.2
// "image-to-text fallback").
type ImageFallback interface {
	DescribeImage(ctx context.Context, model string, imageData []byte, mimeType string) (string, error)
}

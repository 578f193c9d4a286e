package ziya

import "context"

// Request is one model invocation: the conversation, the tools on offer, and
// the already-filtered parameter bag. Drivers translate it into their
// provider-native request body.
type Request struct {
	Messages []Message
	Tools    []ToolDescriptor
	// Params holds only parameters the descriptor supports; the parameter
	// filter must run immediately before every invocation.
	Params map[string]any
	// ExtendedContext asks the driver to set the descriptor's
	// extended-context header. Set by the retry wrapper on a context-limit
	// re-issue, never by callers.
	ExtendedContext bool
}

// Provider abstracts one model backend family.
//
// Stream returns a lazily produced, single-consumer chunk sequence. The
// channel is closed at end of stream; cancellation of ctx closes the
// underlying provider stream and the channel. Drivers never add filler text
// or synthesize tool calls.
type Provider interface {
	// Invoke sends a request and returns the complete assistant message.
	Invoke(ctx context.Context, req Request) (Message, error)
	// Stream sends a request and returns the chunk channel. A failure to
	// open the stream is returned directly; mid-stream failures arrive as
	// ProviderError chunks.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	// Descriptor returns the model descriptor this provider serves.
	Descriptor() ModelDescriptor
	// Name returns the provider name for logging ("bedrock", "gemini", ...).
	Name() string
}

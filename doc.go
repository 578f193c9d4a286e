// Package ziya is the streaming agent runtime of the Ziya code assistant.
//
// It mediates between a user, a local source repository, and hosted language
// model backends: it assembles a model prompt from selected files (with
// context caching and change tracking), drives a bounded tool-using
// conversation with the model, and streams partial output to the caller as
// Server-Sent Events with structured error envelopes.
//
// # Core pieces
//
//   - [Provider] — uniform invoke/stream contract over heterogeneous backends
//     (provider/bedrock, provider/anthropic, provider/openaicompat,
//     provider/gemini)
//   - [FilterParams] — per-descriptor request parameter filtering
//   - [WithRetry] — classification-driven backoff and extended-context retry
//   - [ContextSplitter] — stable/dynamic system prompt split for caching
//   - [PromptAssembler] — deterministic message-list assembly
//   - [Loop] — the streaming tool-call loop
//   - [SSEWriter] — the event-stream boundary
//
// Tool execution flows through the mcp package's Manager; file change
// tracking through the [FileStateOracle] contract (implemented by the
// filestate package). The server package exposes the HTTP surface and
// cmd/ziya the command line.
package ziya

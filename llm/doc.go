// Package llm provides a provider-neutral abstraction for streaming Large
// Language Model APIs.
//
// This package defines common types, interfaces, and utilities that allow the
// codebase to work with multiple LLM providers (Anthropic, OpenAI, Ollama)
// without being tightly coupled to any specific provider's SDK.
//
// # Core Concepts
//
//  1. Messages: the Message type represents a conversation message with a role
//     (user, assistant, system) and content blocks (text, tool use, tool
//     results).
//
//  2. Tools: the ToolSpec type represents a tool definition that can be
//     offered to the model; ToolUseBlock and ToolResultBlock represent tool
//     invocations and their results.
//
//  3. Client Interface: the Client interface exposes Stream(), which returns a
//     pull-based Stream of events. Deltas carry incremental text, incremental
//     reasoning, or a complete decoded tool call.
//
//  4. Errors: the Error type provides provider-neutral error handling with
//     support for rate limits, retryable errors, and provider-specific error
//     details.
//
// To add a new provider, implement Client and Stream, translate the provider's
// wire events into StreamEvent values, and map provider failures onto the
// llm.Error constructors.
package llm

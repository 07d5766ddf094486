// Package llm provides the vendor-neutral vocabulary of the query engine.
//
// This package defines the types shared by every layer that talks to a
// Large Language Model vendor: provider descriptors, chat messages, the
// error taxonomy, and the two pure helpers that sit at the edges of a query.
//
// # Core Concepts
//
//  1. Providers: A Provider describes one configured vendor endpoint. Its
//     ProviderType maps to a closed set of wire-protocol families
//     (OpenAI-compatible, responses-style, Anthropic-style, Google-style,
//     custom). The set is closed on purpose; vendor dispatch happens with a
//     switch at the request builder and response parser boundaries.
//
//  2. Messages: ChatMessage carries a role (user, assistant, system) and text.
//     Normalize turns an optional history plus a raw prompt into a
//     Conversation, the canonical order in which messages are transmitted.
//
//  3. Errors: Error classifies failures into validation, transport,
//     http_status and parse errors. Validation errors never reach the network.
//     Classify renders a human-readable message for non-2xx responses.
//
//  4. Probes: ConnectionTestResult is the immutable outcome of a lightweight
//     credential/base URL/model check.
//
// Usage Example
//
//	conv, err := llm.Normalize(history, prompt)
//	if err != nil {
//	    return err // *llm.Error of type validation
//	}
//
//	msg := llm.Classify(http.StatusUnauthorized, "gpt-4o-mini", excerpt)
//	// "Authentication failed (HTTP 401) for model gpt-4o-mini: ..."
package llm

package llm

import "context"

// Client is a minimal chat-completion client used by the LLM classifier and
// the quality rewriter. Implementations live under contrib/llm.
type Client interface {
	// Complete sends one system + user prompt pair and returns the raw
	// assistant text.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

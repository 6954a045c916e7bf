package classify

import (
	"context"
	"strings"

	"github.com/sweetpotato0/ragline/llm"
)

// ShortQueryTokens is the word-count threshold below which a query is
// expanded with system context.
const ShortQueryTokens = 6

// Rewrite is the outcome of a rewrite attempt. Changed reports whether the
// text actually differs from the input.
type Rewrite struct {
	Original  string
	Rewritten string
	Reason    string
	Changed   bool
}

// Rewriter expands short queries and rephrases queries that failed
// verification.
type Rewriter struct {
	client llm.Client
}

// NewRewriter creates a rewriter. client may be nil; quality rewrites then
// use a deterministic expansion.
func NewRewriter(client llm.Client) *Rewriter {
	return &Rewriter{client: client}
}

// Expand rewrites a query shorter than ShortQueryTokens words by appending
// system context. Longer queries pass through unchanged.
func (r *Rewriter) Expand(query string) Rewrite {
	if len(strings.Fields(query)) >= ShortQueryTokens {
		return Rewrite{Original: query, Rewritten: query}
	}
	return Rewrite{
		Original:  query,
		Rewritten: query + " (context: RAG chat app, hybrid retrieval, citations)",
		Reason:    "Short/ambiguous query expanded",
		Changed:   true,
	}
}

const qualitySystem = `You rewrite search queries that failed to retrieve supporting evidence.
Return only the rewritten query, no explanation. Keep the original intent, add
synonyms and concrete terms that improve recall.`

// Refine rephrases a query whose answer failed verification. With an LLM
// client the model proposes the rewrite; otherwise a deterministic expansion
// is used.
func (r *Rewriter) Refine(ctx context.Context, query, feedback string) Rewrite {
	if r.client != nil {
		ctx, cancel := context.WithTimeout(ctx, LLMTimeout)
		defer cancel()
		prompt := "Query: " + query
		if feedback != "" {
			prompt += "\nVerifier feedback: " + feedback
		}
		if out, err := r.client.Complete(ctx, qualitySystem, prompt); err == nil {
			out = strings.TrimSpace(stripFences(out))
			if out != "" && out != query {
				return Rewrite{
					Original:  query,
					Rewritten: out,
					Reason:    "Query rephrased after low-confidence verification",
					Changed:   true,
				}
			}
		}
	}
	return Rewrite{
		Original:  query,
		Rewritten: query + " (expanded: include synonyms and related terminology)",
		Reason:    "Query rephrased after low-confidence verification",
		Changed:   true,
	}
}

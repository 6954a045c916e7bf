// Package classify routes an incoming query: retrieve vs direct answer,
// complexity estimate, and which retrieval targets to fan out to.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sweetpotato0/ragline/llm"
	"github.com/sweetpotato0/ragline/pkg/logging"
)

// Mode selects between evidence retrieval and a direct reply.
type Mode string

const (
	ModeRetrieve Mode = "retrieve"
	ModeDirect   Mode = "direct"
)

// Complexity is a coarse effort estimate for the query.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Retrieval targets.
const (
	TargetVector = "vector"
	TargetSQL    = "sql"
	TargetWeb    = "web"
)

// Options are the caller-enabled sources for this invocation.
type Options struct {
	UseRag bool
	UseWeb bool
}

// Decision is the routing outcome for a query.
type Decision struct {
	Mode       Mode       `json:"mode"`
	Complexity Complexity `json:"complexity"`
	Targets    []string   `json:"targets"`
}

var (
	opsPattern      = regexp.MustCompile(`(?i)\b(join|aggregate|compare|timeline|pipeline|why|how)\b`)
	sqlPattern      = regexp.MustCompile(`(?i)\b(select|from|table|column|join|where|group by|order by|count|sum|avg|max|min)\b`)
	recencyPattern  = regexp.MustCompile(`(?i)\b(latest|today|yesterday|current|news|update|recent|202[4-9])\b`)
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|good (morning|afternoon|evening)|hola|yo)\b`)
)

// LLMTimeout bounds a single LLM classification call.
const LLMTimeout = 10 * time.Second

// Classifier routes queries. When an LLM client is configured it is tried
// first and the heuristic path serves as fallback.
type Classifier struct {
	client llm.Client
	useLLM bool
}

// NewClassifier creates a classifier. client may be nil, which forces the
// heuristic path regardless of useLLM.
func NewClassifier(client llm.Client, useLLM bool) *Classifier {
	return &Classifier{client: client, useLLM: useLLM && client != nil}
}

// Classify routes the query given the caller-enabled sources.
func (c *Classifier) Classify(ctx context.Context, query string, opts Options) Decision {
	if c.useLLM {
		if d, err := c.classifyLLM(ctx, query, opts); err == nil {
			return d
		} else {
			logging.Logger().Warn("llm classifier failed, using heuristics",
				"component", "classify", "error", err)
		}
	}
	return Heuristic(query, opts)
}

// Heuristic is the rule-based classifier.
func Heuristic(query string, opts Options) Decision {
	hasOps := opsPattern.MatchString(query)
	hasSQL := sqlPattern.MatchString(query)
	hasRecency := recencyPattern.MatchString(query)
	isGreeting := greetingPattern.MatchString(query)
	wordCount := len(strings.Fields(query))

	var complexity Complexity
	switch {
	case hasOps && wordCount > 12:
		complexity = ComplexityHigh
	case hasOps:
		complexity = ComplexityMedium
	case wordCount < 6:
		complexity = ComplexityLow
	default:
		complexity = ComplexityMedium
	}

	var mode Mode
	switch {
	case hasOps || wordCount > 6:
		mode = ModeRetrieve
	case isGreeting:
		mode = ModeDirect
	case (!opts.UseRag && opts.UseWeb) || (hasRecency && opts.UseWeb):
		mode = ModeRetrieve
	case !opts.UseRag:
		mode = ModeDirect
	default:
		mode = ModeRetrieve
	}

	var targets []string
	if opts.UseRag {
		targets = append(targets, TargetVector)
	}
	if opts.UseWeb || (hasRecency && opts.UseWeb) {
		targets = append(targets, TargetWeb)
	}
	if hasSQL {
		targets = append(targets, TargetSQL)
	}
	if mode == ModeRetrieve && len(targets) == 0 {
		targets = append(targets, TargetVector)
	}

	return Decision{Mode: mode, Complexity: complexity, Targets: dedupe(targets)}
}

const classifierSystem = `You are a query router for a retrieval-augmented QA system.
Respond with a single JSON object and nothing else:
{"mode":"retrieve"|"direct","complexity":"low"|"medium"|"high","targets":["vector"|"sql"|"web",...]}`

func (c *Classifier) classifyLLM(ctx context.Context, query string, opts Options) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, LLMTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Query: %s\nEnabled sources: vector=%t web=%t sql=true\nClassify the query.",
		query, opts.UseRag, opts.UseWeb)
	raw, err := c.client.Complete(ctx, classifierSystem, prompt)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	if err := json.Unmarshal([]byte(stripFences(raw)), &d); err != nil {
		return Decision{}, fmt.Errorf("parse classifier response: %w", err)
	}
	if d.Mode != ModeRetrieve && d.Mode != ModeDirect {
		return Decision{}, fmt.Errorf("invalid mode %q", d.Mode)
	}
	switch d.Complexity {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
	default:
		d.Complexity = ComplexityMedium
	}

	enabled := map[string]bool{
		TargetVector: opts.UseRag,
		TargetWeb:    opts.UseWeb,
		TargetSQL:    true,
	}
	var targets []string
	for _, t := range d.Targets {
		if enabled[t] {
			targets = append(targets, t)
		}
	}
	if d.Mode == ModeRetrieve && len(targets) == 0 {
		if opts.UseRag {
			targets = append(targets, TargetVector)
		} else if opts.UseWeb {
			targets = append(targets, TargetWeb)
		}
	}
	d.Targets = dedupe(targets)
	return d, nil
}

// stripFences removes a leading/trailing markdown code fence around a JSON
// payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

package pipeline

import (
	"time"

	"github.com/sweetpotato0/ragline/websearch"
)

// Type discriminates the event union.
type Type string

const (
	TypeAgentLog          Type = "agent_log"
	TypeRewrite           Type = "rewrite"
	TypeTokens            Type = "tokens"
	TypeCitations         Type = "citations"
	TypeWebSearchMetadata Type = "web_search_metadata"
	TypeVerification      Type = "verification"
	TypeFinal             Type = "final"
	TypePing              Type = "ping"
)

// Agent roles used in agent_log events.
const (
	RolePlanner    = "planner"
	RoleResearcher = "researcher"
	RoleCritic     = "critic"
	RoleWriter     = "writer"
)

// Event is one entry of the coordinator's output stream. Exactly one of the
// payload fields is set, matching Type.
type Event struct {
	Type Type  `json:"type"`
	Ts   int64 `json:"ts"`

	AgentLog     *AgentLogData     `json:"agentLog,omitempty"`
	Rewrite      *RewriteData      `json:"rewrite,omitempty"`
	Tokens       *TokensData       `json:"tokens,omitempty"`
	Citations    *CitationsData    `json:"citations,omitempty"`
	WebSearch    *WebSearchData    `json:"webSearch,omitempty"`
	Verification *VerificationData `json:"verification,omitempty"`
	Final        *FinalData        `json:"final,omitempty"`
}

// AgentLogData is a progress line attributed to a pipeline role.
type AgentLogData struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// RewriteData reports a query rewrite.
type RewriteData struct {
	Original  string `json:"original"`
	Rewritten string `json:"rewritten"`
	Reason    string `json:"reason,omitempty"`
}

// TokensData carries one slice of streamed answer text.
type TokensData struct {
	Text string `json:"text"`
}

// Citation points at one approved evidence item.
type Citation struct {
	DocumentID    string `json:"documentId,omitempty"`
	Source        string `json:"source,omitempty"`
	ChunkIndex    int    `json:"chunkIndex"`
	CitationStart *int   `json:"citationStart,omitempty"`
	CitationEnd   *int   `json:"citationEnd,omitempty"`
	IsWebSource   bool   `json:"isWebSource,omitempty"`
}

// CitationsData lists the approved evidence set for the current pass.
type CitationsData struct {
	Citations []Citation `json:"citations"`
}

// WebSearchData mirrors the web-search metadata for the caller.
type WebSearchData struct {
	Query       string                 `json:"query"`
	ResultCount int                    `json:"resultCount"`
	Sources     []websearch.SourceMeta `json:"sources,omitempty"`
	Cached      bool                   `json:"cached,omitempty"`
}

// VerificationData reports the grounding check for a composed answer.
type VerificationData struct {
	IsValid      bool    `json:"isValid"`
	GradeSummary string  `json:"gradeSummary,omitempty"`
	Feedback     string  `json:"feedback,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// FinalData is the terminal event. It is emitted exactly once per
// invocation, on every path.
type FinalData struct {
	Text      string     `json:"text"`
	Verified  bool       `json:"verified"`
	Citations []Citation `json:"citations,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Sink receives events in order. Send reports whether the sink is still
// open; a closed sink stops the coordinator's emission.
type Sink interface {
	Send(Event) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) bool

func (f SinkFunc) Send(e Event) bool { return f(e) }

// CollectorSink buffers events, for tests and batch callers.
type CollectorSink struct {
	Events []Event
}

func (c *CollectorSink) Send(e Event) bool {
	c.Events = append(c.Events, e)
	return true
}

func now() int64 { return time.Now().UnixMilli() }

func agentLog(role, message string) Event {
	return Event{Type: TypeAgentLog, Ts: now(), AgentLog: &AgentLogData{Role: role, Message: message}}
}

func rewriteEvent(original, rewritten, reason string) Event {
	return Event{Type: TypeRewrite, Ts: now(), Rewrite: &RewriteData{Original: original, Rewritten: rewritten, Reason: reason}}
}

func tokensEvent(text string) Event {
	return Event{Type: TypeTokens, Ts: now(), Tokens: &TokensData{Text: text}}
}

func citationsEvent(citations []Citation) Event {
	return Event{Type: TypeCitations, Ts: now(), Citations: &CitationsData{Citations: citations}}
}

func webSearchEvent(meta websearch.Metadata) Event {
	return Event{Type: TypeWebSearchMetadata, Ts: now(), WebSearch: &WebSearchData{
		Query:       meta.Query,
		ResultCount: meta.ResultCount,
		Sources:     meta.Sources,
		Cached:      meta.Cached,
	}}
}

func verificationEvent(v VerificationData) Event {
	return Event{Type: TypeVerification, Ts: now(), Verification: &v}
}

func finalEvent(f FinalData) Event {
	return Event{Type: TypeFinal, Ts: now(), Final: &f}
}

// Ping is the keepalive event the transport adapter sends periodically.
func Ping() Event {
	return Event{Type: TypePing, Ts: now()}
}

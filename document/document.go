package document

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document represents a logical unit of ingested content. Identifiers are
// unique and never reused; deleting a document cascades to its chunks.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is an ordered fragment of a document's text. (DocumentID, Index) is
// unique and Index is contiguous starting at 0 within a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Grade      string    `json:"grade,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Candidate is a transient search result flowing through retrieval, grading
// and composition. Score holds the fused pre-rerank prior; RerankScore is
// filled by the reranker and preserved for downstream grading.
type Candidate struct {
	ChunkID     string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	ChunkIndex  int      `json:"chunk_index"`
	Content     string   `json:"content"`
	Source      string   `json:"source,omitempty"`
	Score       float32  `json:"score"`
	RerankScore *float32 `json:"rerank_score,omitempty"`
}

// WebIDPrefix marks candidates that came from the web-search path.
const WebIDPrefix = "web:"

// IsWebSource reports whether the candidate originated from web search.
func (c Candidate) IsWebSource() bool {
	return strings.HasPrefix(c.ChunkID, WebIDPrefix)
}

// RewriteRecord is an immutable audit entry for a query rewrite.
type RewriteRecord struct {
	ID        string    `json:"id"`
	Original  string    `json:"original"`
	Rewritten string    `json:"rewritten"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback captures a user's rating of an answer.
type Feedback struct {
	ID        string    `json:"id"`
	Rating    string    `json:"rating"` // up | down
	Comment   string    `json:"comment,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Question  string    `json:"question,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewID returns a fresh identifier for documents, chunks and audit records.
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy of the chunk.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Embedding != nil {
		out.Embedding = make([]float32, len(c.Embedding))
		copy(out.Embedding, c.Embedding)
	}
	return out
}

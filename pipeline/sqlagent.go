package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sweetpotato0/ragline/document"
)

// SQLAgent answers structured questions against the relational store. The
// agent enforces its own statement timeout, row cap and cost cap; the
// coordinator treats its failure as fatal to the query.
type SQLAgent interface {
	// Query returns result rows as column-name to value maps.
	Query(ctx context.Context, question string) ([]map[string]any, error)
}

// sqlCandidates maps agent rows to candidates tagged source "sql" with a
// zero prior score.
func sqlCandidates(rows []map[string]any) []document.Candidate {
	out := make([]document.Candidate, 0, len(rows))
	for i, row := range rows {
		out = append(out, document.Candidate{
			ChunkID:    fmt.Sprintf("sql:%d", i),
			ChunkIndex: i,
			Content:    renderRow(row),
			Source:     "sql",
			Score:      0,
		})
	}
	return out
}

// renderRow flattens one row into "col: value" pairs in column order.
func renderRow(row map[string]any) string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprintf("%s: %v", col, row[col]))
	}
	return strings.Join(parts, ", ")
}

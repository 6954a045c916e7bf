package ingest

import (
	"context"
	"sync"
)

// DeleteOutcome reports per-store success for a dual delete. Partial failure
// maps to a multi-status response at the API edge.
type DeleteOutcome struct {
	Primary   bool `json:"primary"`
	Secondary bool `json:"secondary"`
}

// Complete reports whether both stores deleted cleanly.
func (o DeleteOutcome) Complete() bool { return o.Primary && o.Secondary }

// Delete removes a document from both stores concurrently with all-settled
// semantics: each side runs to completion regardless of the other. Deleting
// a missing document succeeds.
func (in *Ingester) Delete(ctx context.Context, documentID string) DeleteOutcome {
	chunks, err := in.primary.ChunksByDocument(ctx, documentID, 0)
	if err != nil {
		in.logger.Error("delete: listing chunks failed", "document_id", documentID, "error", err)
	}

	outcome := DeleteOutcome{Primary: true, Secondary: true}
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := in.primary.DeleteDocument(ctx, documentID); err != nil {
			in.logger.Error("delete: primary failed", "document_id", documentID, "error", err)
			outcome.Primary = false
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, chunk := range chunks {
			if err := in.secondary.DeletePoint(ctx, chunk.ID); err != nil {
				in.logger.Error("delete: secondary point failed",
					"chunk_id", chunk.ID, "error", err)
				outcome.Secondary = false
			}
		}
	}()

	wg.Wait()
	return outcome
}

package driving

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// IngestionService turns add/remove events into vector index changes.
type IngestionService interface {
	// HandleEvent attempts every add and every remove in the event and
	// reports one outcome per item. Item failures never abort the batch.
	HandleEvent(ctx context.Context, event domain.IngestEvent) domain.BatchResult

	// IngestFile extracts, chunks, embeds and indexes one document,
	// replacing any chunks previously indexed for the same owner and name.
	IngestFile(ctx context.Context, fd domain.FileDescriptor) domain.ItemOutcome

	// RemoveFile deletes every chunk of one document.
	RemoveFile(ctx context.Context, ref domain.FileRef) domain.ItemOutcome
}

package driven

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// IngestionLedger persists per-item ingestion outcomes for operators.
type IngestionLedger interface {
	// Record appends an entry.
	Record(ctx context.Context, entry domain.LedgerEntry) error

	// Recent returns the newest entries first.
	Recent(ctx context.Context, limit int) ([]domain.LedgerEntry, error)

	// ForSource returns the entries of one document, newest first.
	ForSource(ctx context.Context, ref domain.FileRef) ([]domain.LedgerEntry, error)

	// Close releases resources.
	Close() error
}

package driving

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// ConsumerService runs the ingestion worker loop against the queue.
type ConsumerService interface {
	// Run connects, consumes and acknowledges until ctx is cancelled.
	// It returns domain.ErrQueueUnavailable when the broker cannot be
	// reached at startup, and nil on cancellation.
	Run(ctx context.Context) error
}

// PublisherService sends ingestion events to the queue.
type PublisherService interface {
	// Publish encodes and sends one event.
	Publish(ctx context.Context, event domain.IngestEvent) error
}

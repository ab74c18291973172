package domain

import "time"

// Chunk is a bounded, order-preserving slice of a document's extracted text.
type Chunk struct {
	// OwnerID is the wallet address owning the source document.
	OwnerID string

	// SourceName is the source document's file name.
	SourceName string

	// Sequence is the zero-based position within the source.
	// It is for traceability, not reconstruction.
	Sequence int

	// Text is the chunk content.
	Text string
}

// Payload is the metadata stored alongside every vector.
type Payload struct {
	OwnerID    string    `json:"owner_id"`
	SourceName string    `json:"source_name"`
	Sequence   int       `json:"sequence_index"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Matches reports whether the payload belongs to the filter's document.
func (p Payload) Matches(f PointFilter) bool {
	return p.OwnerID == f.OwnerID && p.SourceName == f.SourceName
}

// VectorPoint is an embedded chunk as stored in a collection.
// IDs are generated fresh on every ingestion and never derived from content.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// PointFilter selects points by exact owner and source name.
type PointFilter struct {
	OwnerID    string
	SourceName string
}

// FilterFor builds the filter matching every point of ref.
func FilterFor(ref FileRef) PointFilter {
	return PointFilter{OwnerID: ref.OwnerID, SourceName: ref.SourceName}
}

// ScoredPayload is one nearest-neighbour hit.
type ScoredPayload struct {
	ID      string
	Payload Payload

	// Score is the cosine similarity; higher is closer.
	Score float64
}

// CollectionInfo describes a provisioned collection.
type CollectionInfo struct {
	Name       string
	Dimension  int
	Distance   string
	PointCount int
}

// DistanceCosine is the only distance metric collections are created with.
const DistanceCosine = "Cosine"

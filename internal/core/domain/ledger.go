package domain

import "time"

// LedgerStatus is the final state of a recorded item.
type LedgerStatus string

// Ledger statuses.
const (
	LedgerStatusOK     LedgerStatus = "ok"
	LedgerStatusFailed LedgerStatus = "failed"
)

// LedgerEntry records the outcome of one ingestion or removal.
type LedgerEntry struct {
	ID          int64
	Action      Action
	OwnerID     string
	SourceName  string
	Status      LedgerStatus
	Chunks      int
	Deleted     int
	Error       string
	ProcessedAt time.Time
}

// EntryFromOutcome converts an item outcome into a ledger entry.
func EntryFromOutcome(o ItemOutcome, at time.Time) LedgerEntry {
	entry := LedgerEntry{
		Action:      o.Action,
		OwnerID:     o.Ref.OwnerID,
		SourceName:  o.Ref.SourceName,
		Status:      LedgerStatusOK,
		Chunks:      o.Chunks,
		Deleted:     o.Deleted,
		ProcessedAt: at,
	}
	if o.Err != nil {
		entry.Status = LedgerStatusFailed
		entry.Error = o.Err.Error()
	}
	return entry
}

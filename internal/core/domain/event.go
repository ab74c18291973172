package domain

import (
	"errors"
	"time"
)

// IngestEvent is one queue message. A single message may carry both lists.
type IngestEvent struct {
	Add    []FileDescriptor
	Remove []FileRef
}

// IsEmpty reports whether the event carries no work.
func (e IngestEvent) IsEmpty() bool {
	return len(e.Add) == 0 && len(e.Remove) == 0
}

// Action names the kind of work done for one item.
type Action string

// Item actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// ItemOutcome is the result of attempting one file of a batch.
type ItemOutcome struct {
	Action Action
	Ref    FileRef

	// Chunks is the number of points written by an add.
	Chunks int

	// Deleted is the number of points removed, by a remove or by the
	// delete-then-insert step of an add.
	Deleted int

	// Err is nil on success.
	Err error

	Duration time.Duration
}

// Succeeded reports whether the item completed without error.
func (o ItemOutcome) Succeeded() bool {
	return o.Err == nil
}

// BatchResult aggregates the outcomes of one event, in event order:
// adds first, then removes.
type BatchResult struct {
	Outcomes []ItemOutcome
}

// Failed returns the number of items that ended in error.
func (r BatchResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Succeeded returns the number of items that completed.
func (r BatchResult) Succeeded() int {
	return len(r.Outcomes) - r.Failed()
}

// EmbeddingOutage reports whether at least one add was attempted and every
// add failed because the embedding service was unreachable.
func (r BatchResult) EmbeddingOutage() bool {
	adds := 0
	for _, o := range r.Outcomes {
		if o.Action != ActionAdd {
			continue
		}
		adds++
		if !errors.Is(o.Err, ErrEmbeddingUnavailable) {
			return false
		}
	}
	return adds > 0
}

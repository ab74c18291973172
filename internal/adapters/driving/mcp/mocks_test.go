package mcp

import (
	"context"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

// mockGroundingService is a mock implementation of driving.GroundingService.
type mockGroundingService struct {
	group  *domain.RetrievalGroup
	answer *domain.Answer
	err    error

	lastQuery string
	lastTopK  int
}

func (m *mockGroundingService) Retrieve(_ context.Context, query string, topK int) (*domain.RetrievalGroup, error) {
	m.lastQuery, m.lastTopK = query, topK
	if m.err != nil {
		return nil, m.err
	}
	if m.group == nil {
		return domain.NewRetrievalGroup(), nil
	}
	return m.group, nil
}

func (m *mockGroundingService) ComposePrompt(string, *domain.RetrievalGroup, int) (string, error) {
	return "", nil
}

func (m *mockGroundingService) Ask(context.Context, string) (string, error) {
	return "", nil
}

func (m *mockGroundingService) ExtractOwners(reply string) (string, []string) {
	return reply, []string{}
}

func (m *mockGroundingService) Chat(_ context.Context, query string, topK int) (*domain.Answer, error) {
	m.lastQuery, m.lastTopK = query, topK
	if m.err != nil {
		return nil, m.err
	}
	return m.answer, nil
}

// mockLedger is a mock implementation of driven.IngestionLedger.
type mockLedger struct {
	entries []domain.LedgerEntry
	err     error

	lastRef domain.FileRef
}

func (m *mockLedger) Record(context.Context, domain.LedgerEntry) error { return m.err }

func (m *mockLedger) Recent(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.entries) > limit {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

func (m *mockLedger) ForSource(_ context.Context, ref domain.FileRef) ([]domain.LedgerEntry, error) {
	m.lastRef = ref
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.OwnerID == ref.OwnerID && e.SourceName == ref.SourceName {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockLedger) Close() error { return nil }

package api

import (
	"context"

	"playrunaddict/internal/ledger"
)

// LedgerReader abstracts ledger persistence interactions needed for API
// queries.
type LedgerReader interface {
	List(ctx context.Context, states ...ledger.State) ([]*ledger.Record, error)
	GetByID(ctx context.Context, id int64) (*ledger.Record, error)
	Health(ctx context.Context) (ledger.HealthSummary, error)
}

// LedgerService exposes read-only ledger operations returning API DTOs.
type LedgerService struct {
	store LedgerReader
}

// NewLedgerService constructs a LedgerService around the provided reader.
func NewLedgerService(store LedgerReader) *LedgerService {
	if store == nil {
		return nil
	}
	return &LedgerService{store: store}
}

// List returns ledger records filtered by state.
func (s *LedgerService) List(ctx context.Context, states ...ledger.State) ([]LedgerRecord, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	records, err := s.store.List(ctx, states...)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Describe fetches a single ledger record.
func (s *LedgerService) Describe(ctx context.Context, id int64) (*LedgerRecord, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	record, err := s.store.GetByID(ctx, id)
	if err != nil || record == nil {
		return nil, err
	}
	view := FromRecord(record)
	return &view, nil
}

// Stats returns aggregated record counts.
func (s *LedgerService) Stats(ctx context.Context) (LedgerStats, error) {
	if s == nil || s.store == nil {
		return LedgerStats{}, nil
	}
	summary, err := s.store.Health(ctx)
	if err != nil {
		return LedgerStats{}, err
	}
	return FromHealthSummary(summary), nil
}

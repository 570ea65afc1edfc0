package ports

import (
	"context"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// ExecutionJournal persists what the engine did, for audit and reporting.
// The engine never reads it back.
type ExecutionJournal interface {
	StartRun(ctx context.Context, run domain.RunInfo) error
	RecordDirective(ctx context.Context, rec domain.DirectiveRecord) error
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error
	RecordBreakerTrip(ctx context.Context, trip domain.BreakerTrip) error

	// Live orders as last reported by the reconciler
	UpsertLiveOrder(ctx context.Context, runID string, order domain.LiveOrder) error
	RemoveLiveOrder(ctx context.Context, orderIndex int64) error
}

// JournalReader reads the journal back for reports.
type JournalReader interface {
	LastRunID(ctx context.Context) (string, error)
	RunStats(ctx context.Context, runID string) (domain.ExecutionStats, error)
	RecentOutcomes(ctx context.Context, runID string, limit int) ([]domain.OutcomeRecord, error)
	BreakerTrips(ctx context.Context, runID string) ([]domain.BreakerTrip, error)
	LiveOrders(ctx context.Context) ([]domain.LiveOrder, error)
}

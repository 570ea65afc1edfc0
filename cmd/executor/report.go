package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/lighterexec/internal/adapters/storage"
	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/ports"
)

// runReport prints the journal of one run. An empty runID selects the latest.
func runReport(ctx context.Context, reader ports.JournalReader, notifier ports.Notifier, runID string, limit int) error {
	if runID == "" {
		id, err := reader.LastRunID(ctx)
		if errors.Is(err, storage.ErrNoRuns) {
			return notifier.Notify(ctx, domain.ExecutionReport{})
		}
		if err != nil {
			return fmt.Errorf("runReport: %w", err)
		}
		runID = id
	}

	report, err := buildReport(ctx, reader, runID, limit)
	if err != nil {
		return fmt.Errorf("runReport: %w", err)
	}
	slog.Debug("report built", "run_id", runID, "outcomes", len(report.Outcomes), "live", len(report.Live))
	return notifier.Notify(ctx, report)
}

func buildReport(ctx context.Context, reader ports.JournalReader, runID string, limit int) (domain.ExecutionReport, error) {
	var r domain.ExecutionReport
	var err error

	if r.Stats, err = reader.RunStats(ctx, runID); err != nil {
		return r, err
	}
	if r.Outcomes, err = reader.RecentOutcomes(ctx, runID, limit); err != nil {
		return r, err
	}
	if r.Trips, err = reader.BreakerTrips(ctx, runID); err != nil {
		return r, err
	}
	if r.Live, err = reader.LiveOrders(ctx); err != nil {
		return r, err
	}
	return r, nil
}

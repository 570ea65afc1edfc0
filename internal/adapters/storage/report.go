package storage

// report.go: lado de lectura del diario, para `executor -report`.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// LastRunID devuelve la run más reciente, o ErrNoRuns si no hay ninguna.
func (s *SQLiteStorage) LastRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM runs ORDER BY started_at_ms DESC, rowid DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", fmt.Errorf("storage.LastRunID: %w", err)
	}
	return id, nil
}

// RunStats agrega el diario de una run: directivas, reintentos, resultados por tipo,
// disparos del breaker y órdenes en reposo.
func (s *SQLiteStorage) RunStats(ctx context.Context, runID string) (domain.ExecutionStats, error) {
	stats := domain.ExecutionStats{RunID: runID, Outcomes: make(map[domain.Outcome]int)}

	var dryRun int
	var startedMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT market_id, dry_run, started_at_ms FROM runs WHERE run_id = ?`, runID,
	).Scan(&stats.MarketID, &dryRun, &startedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, fmt.Errorf("storage.RunStats: run %q: %w", runID, ErrNoRuns)
	}
	if err != nil {
		return stats, fmt.Errorf("storage.RunStats: run: %w", err)
	}
	stats.DryRun = dryRun == 1
	stats.StartedAt = fromMillis(startedMs)

	var lastDirective, lastOutcome sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN attempt > 0 THEN 1 ELSE 0 END), 0),
		       MAX(created_at_ms)
		FROM directives WHERE run_id = ?`, runID,
	).Scan(&stats.Directives, &stats.Retries, &lastDirective); err != nil {
		return stats, fmt.Errorf("storage.RunStats: directives: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*), MAX(at_ms) FROM outcomes WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return stats, fmt.Errorf("storage.RunStats: outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		var last int64
		if err := rows.Scan(&outcome, &n, &last); err != nil {
			return stats, fmt.Errorf("storage.RunStats: scan outcome: %w", err)
		}
		stats.Outcomes[domain.Outcome(outcome)] = n
		if !lastOutcome.Valid || last > lastOutcome.Int64 {
			lastOutcome = sql.NullInt64{Int64: last, Valid: true}
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("storage.RunStats: outcomes: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM breaker_trips WHERE run_id = ?`, runID,
	).Scan(&stats.BreakerTrips); err != nil {
		return stats, fmt.Errorf("storage.RunStats: trips: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM live_orders WHERE run_id = ?`, runID,
	).Scan(&stats.LiveOrders); err != nil {
		return stats, fmt.Errorf("storage.RunStats: live orders: %w", err)
	}

	last := max(lastDirective.Int64, lastOutcome.Int64)
	stats.LastActivity = fromMillis(last)
	return stats, nil
}

// RecentOutcomes devuelve los últimos resultados de la run, el más reciente primero.
func (s *SQLiteStorage) RecentOutcomes(ctx context.Context, runID string, limit int) ([]domain.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT directive_id, client_order_id, side, action, price_ticks,
		       order_index, outcome, attempt, detail, at_ms
		FROM outcomes
		WHERE run_id = ?
		ORDER BY at_ms DESC, id DESC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentOutcomes: query: %w", err)
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		rec := domain.OutcomeRecord{RunID: runID}
		var directiveID, atMs int64
		var side, action, outcome string
		if err := rows.Scan(
			&directiveID, &rec.ClientOrderID, &side, &action, &rec.PriceTicks,
			&rec.OrderIndex, &outcome, &rec.Attempt, &rec.Detail, &atMs,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentOutcomes: scan row: %w", err)
		}
		rec.DirectiveID = uint64(directiveID)
		rec.Side = parseSide(side)
		rec.Action = parseAction(action)
		rec.Outcome = domain.Outcome(outcome)
		rec.At = fromMillis(atMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BreakerTrips devuelve los disparos del breaker de la run, en orden cronológico.
func (s *SQLiteStorage) BreakerTrips(ctx context.Context, runID string) ([]domain.BreakerTrip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT live_count, cooldown_ms, at_ms FROM breaker_trips WHERE run_id = ? ORDER BY at_ms, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.BreakerTrips: query: %w", err)
	}
	defer rows.Close()

	var trips []domain.BreakerTrip
	for rows.Next() {
		trip := domain.BreakerTrip{RunID: runID}
		var cooldownMs, atMs int64
		if err := rows.Scan(&trip.LiveCount, &cooldownMs, &atMs); err != nil {
			return nil, fmt.Errorf("storage.BreakerTrips: scan row: %w", err)
		}
		trip.Cooldown = time.Duration(cooldownMs) * time.Millisecond
		trip.At = fromMillis(atMs)
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// LiveOrders devuelve las órdenes en reposo, ordenadas por lado y precio.
func (s *SQLiteStorage) LiveOrders(ctx context.Context) ([]domain.LiveOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_index, client_order_id, side, price_ticks FROM live_orders ORDER BY side DESC, price_ticks DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage.LiveOrders: query: %w", err)
	}
	defer rows.Close()

	var orders []domain.LiveOrder
	for rows.Next() {
		var o domain.LiveOrder
		var side string
		if err := rows.Scan(&o.OrderIndex, &o.ClientOrderID, &side, &o.PriceTicks); err != nil {
			return nil, fmt.Errorf("storage.LiveOrders: scan row: %w", err)
		}
		o.Side = parseSide(side)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func parseSide(s string) domain.Side {
	if s == domain.SideAsk.String() {
		return domain.SideAsk
	}
	return domain.SideBid
}

func parseAction(s string) domain.ActionKind {
	switch s {
	case domain.ActionCreate.String():
		return domain.ActionCreate
	case domain.ActionCancel.String():
		return domain.ActionCancel
	default:
		return 0
	}
}

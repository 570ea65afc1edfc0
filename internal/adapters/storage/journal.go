package storage

// journal.go: lado de escritura del diario, lo que hizo el motor.

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// StartRun registra una run nueva. La tabla live_orders se vacía: un proceso
// nuevo no sabe nada del libro hasta el primer snapshot del reconciliador.
func (s *SQLiteStorage) StartRun(ctx context.Context, run domain.RunInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.StartRun: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, market_id, dry_run, started_at_ms) VALUES (?, ?, ?, ?)`,
		run.RunID, run.MarketID, boolToInt(run.DryRun), toMillis(run.StartedAt),
	); err != nil {
		return fmt.Errorf("storage.StartRun: insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM live_orders`); err != nil {
		return fmt.Errorf("storage.StartRun: clear live orders: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.StartRun: commit: %w", err)
	}
	return nil
}

// RecordDirective añade una fila por directiva emitida (incluidos reintentos).
func (s *SQLiteStorage) RecordDirective(ctx context.Context, rec domain.DirectiveRecord) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO directives (run_id, directive_id, attempt, source, creates, cancels, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, int64(rec.DirectiveID), rec.Attempt, rec.Source, rec.Creates, rec.Cancels,
		toMillis(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("storage.RecordDirective: insert %d: %w", rec.DirectiveID, err)
	}
	return nil
}

// RecordOutcome añade el resultado de una operación.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes
			(run_id, directive_id, client_order_id, side, action, price_ticks,
			 order_index, outcome, attempt, detail, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, int64(rec.DirectiveID), rec.ClientOrderID, rec.Side.String(), rec.Action.String(),
		rec.PriceTicks, rec.OrderIndex, string(rec.Outcome), rec.Attempt, rec.Detail, toMillis(rec.At),
	); err != nil {
		return fmt.Errorf("storage.RecordOutcome: insert client %d: %w", rec.ClientOrderID, err)
	}
	return nil
}

// RecordBreakerTrip registra un cancel-all de emergencia.
func (s *SQLiteStorage) RecordBreakerTrip(ctx context.Context, trip domain.BreakerTrip) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO breaker_trips (run_id, live_count, cooldown_ms, at_ms) VALUES (?, ?, ?, ?)`,
		trip.RunID, trip.LiveCount, trip.Cooldown.Milliseconds(), toMillis(trip.At),
	); err != nil {
		return fmt.Errorf("storage.RecordBreakerTrip: insert: %w", err)
	}
	return nil
}

// UpsertLiveOrder guarda la orden tal como la reportó el exchange.
func (s *SQLiteStorage) UpsertLiveOrder(ctx context.Context, runID string, o domain.LiveOrder) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO live_orders (order_index, run_id, client_order_id, side, price_ticks, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_index) DO UPDATE SET
			run_id          = excluded.run_id,
			client_order_id = excluded.client_order_id,
			side            = excluded.side,
			price_ticks     = excluded.price_ticks,
			updated_at_ms   = excluded.updated_at_ms`,
		o.OrderIndex, runID, o.ClientOrderID, o.Side.String(), o.PriceTicks, toMillis(s.now()),
	); err != nil {
		return fmt.Errorf("storage.UpsertLiveOrder: upsert %d: %w", o.OrderIndex, err)
	}
	return nil
}

// RemoveLiveOrder borra una orden que ya no está en reposo. Borrar una que no existe no es error.
func (s *SQLiteStorage) RemoveLiveOrder(ctx context.Context, orderIndex int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM live_orders WHERE order_index = ?`, orderIndex); err != nil {
		return fmt.Errorf("storage.RemoveLiveOrder: delete %d: %w", orderIndex, err)
	}
	return nil
}

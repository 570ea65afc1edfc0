package storage

// sqlite.go: diario de ejecución en SQLite.
//
// Estrategia:
//   - `runs`: una fila por proceso del motor (run id, mercado, dry-run).
//   - `directives` y `outcomes`: append-only, una fila por directiva emitida y
//     por resultado de cada operación. Es el histórico de auditoría.
//   - `breaker_trips`: cada cancel-all de emergencia.
//   - `live_orders`: UNA fila por order index (UPSERT), lo último que vio el reconciliador.
//   - Tiempos en milisegundos unix (INTEGER): ordenar y agregar sin parsear strings.
//   - Prune automático al arrancar: runs de más de 30 días con todo lo que cuelga de ellas.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoRuns se devuelve cuando el diario todavía no tiene ninguna run.
var ErrNoRuns = errors.New("storage: no runs recorded")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT PRIMARY KEY,
    market_id     INTEGER NOT NULL,
    dry_run       INTEGER NOT NULL DEFAULT 0,
    started_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS directives (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id        TEXT    NOT NULL,
    directive_id  INTEGER NOT NULL,
    attempt       INTEGER NOT NULL DEFAULT 0,
    source        TEXT    NOT NULL,
    creates       INTEGER NOT NULL DEFAULT 0,
    cancels       INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT    NOT NULL,
    directive_id    INTEGER NOT NULL DEFAULT 0,
    client_order_id INTEGER NOT NULL,
    side            TEXT    NOT NULL,
    action          TEXT    NOT NULL,
    price_ticks     INTEGER NOT NULL DEFAULT 0,
    order_index     INTEGER NOT NULL DEFAULT 0,
    outcome         TEXT    NOT NULL,
    attempt         INTEGER NOT NULL DEFAULT 0,
    detail          TEXT    NOT NULL DEFAULT '',
    at_ms           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_trips (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL,
    live_count  INTEGER NOT NULL,
    cooldown_ms INTEGER NOT NULL,
    at_ms       INTEGER NOT NULL
);

-- Una fila por orden en reposo, sin duplicados
CREATE TABLE IF NOT EXISTS live_orders (
    order_index     INTEGER PRIMARY KEY,
    run_id          TEXT    NOT NULL,
    client_order_id INTEGER NOT NULL,
    side            TEXT    NOT NULL,
    price_ticks     INTEGER NOT NULL,
    updated_at_ms   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started     ON runs(started_at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_directives_run   ON directives(run_id, created_at_ms);
CREATE INDEX IF NOT EXISTS idx_outcomes_run     ON outcomes(run_id, at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_trips_run        ON breaker_trips(run_id, at_ms);
`

const retentionRuns = 30 * 24 * time.Hour // runs: 30 días

// SQLiteStorage implementa ports.ExecutionJournal y ports.JournalReader
// usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia runs antiguas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina runs viejas y sus filas asociadas para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := toMillis(s.now().Add(-retentionRuns))
	for _, table := range []string{"directives", "outcomes", "breaker_trips"} {
		s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE run_id IN (SELECT run_id FROM runs WHERE started_at_ms < ?)`,
			cutoff)
	}
	s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at_ms < ?`, cutoff)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

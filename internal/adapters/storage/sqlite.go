package storage

// sqlite.go: journal de auditoría y checkpoint de inventory.
//
// Tablas:
//   - `fills`: una fila por fill aplicado (event id como PK). Nunca se purga:
//     es el ledger que reconstruye la posición.
//   - `positions`: checkpoint por instrumento, se actualiza en la misma
//     transacción que el fill. Al arrancar es el baseline de la inventory.
//   - `quotes`: cada respuesta a una subasta con su base (snapshot, skew, precio).
//   - `order_events`: cada decisión place/cancel/query/fill del order manager.
//
// Los importes se guardan como TEXT decimal para no perder precisión.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
    id          TEXT PRIMARY KEY,   -- event id del venue
    instrument  TEXT NOT NULL,
    order_ref   TEXT NOT NULL DEFAULT '',
    delta       TEXT NOT NULL,      -- base units, con signo
    price       TEXT NOT NULL,
    filled_at   DATETIME NOT NULL,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    instrument  TEXT PRIMARY KEY,
    quantity    TEXT NOT NULL,
    notional    TEXT NOT NULL,
    fills       INTEGER NOT NULL DEFAULT 0,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quotes (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id       TEXT NOT NULL,
    instrument       TEXT NOT NULL DEFAULT '',
    side             TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    reason           TEXT NOT NULL DEFAULT '',
    amount_in        TEXT NOT NULL,
    amount_out       TEXT NOT NULL DEFAULT '0',
    price            TEXT NOT NULL DEFAULT '0',
    mid              TEXT NOT NULL DEFAULT '0',
    skew             TEXT NOT NULL DEFAULT '0',
    position_before  TEXT NOT NULL DEFAULT '0',
    snapshot_version INTEGER NOT NULL DEFAULT 0,
    quoted_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS order_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    at          DATETIME NOT NULL,
    instrument  TEXT NOT NULL,
    side        TEXT NOT NULL,
    action      TEXT NOT NULL,      -- PLACE / CANCEL / QUERY / FILL
    local_id    TEXT NOT NULL,
    venue_id    TEXT NOT NULL DEFAULT '',
    price       TEXT NOT NULL DEFAULT '0',
    size        TEXT NOT NULL DEFAULT '0',
    result      TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fills_instrument ON fills(instrument);
CREATE INDEX IF NOT EXISTS idx_quotes_at        ON quotes(quoted_at DESC);
CREATE INDEX IF NOT EXISTS idx_order_events_at  ON order_events(at DESC);
CREATE INDEX IF NOT EXISTS idx_order_events_ord ON order_events(local_id);
`

const (
	retentionQuotes = 14 * 24 * time.Hour // quotes: 14 días, volumen alto
	retentionEvents = 30 * 24 * time.Hour // order_events: 30 días
)

// Journal implementa ports.Journal usando SQLite (pure Go, sin CGo).
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// NewJournal abre (o crea) la base de datos en la ruta dada, aplica el schema
// y purga auditoría antigua.
func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewJournal: apply schema: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	j.pruneOld(context.Background())
	return j, nil
}

// Close cierra la conexión a la base de datos.
func (j *Journal) Close() error {
	return j.db.Close()
}

// pruneOld elimina auditoría antigua para mantener la DB ligera. Fills y
// positions no se tocan.
func (j *Journal) pruneOld(ctx context.Context) {
	now := j.now().UTC()
	j.db.ExecContext(ctx, `DELETE FROM quotes WHERE quoted_at < ?`, now.Add(-retentionQuotes))
	j.db.ExecContext(ctx, `DELETE FROM order_events WHERE at < ?`, now.Add(-retentionEvents))
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// SaveFill inserta el fill y actualiza el checkpoint de la posición en una
// sola transacción. Un fill ya guardado no se duplica, y un checkpoint con
// menos fills que el guardado no lo pisa.
func (j *Journal) SaveFill(ctx context.Context, f domain.Fill, pos domain.Position) error {
	updatedAt := pos.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = j.now()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveFill: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills (id, instrument, order_ref, delta, price, filled_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Instrument, f.OrderRef, f.Delta.String(), f.Price.String(),
		f.Timestamp.UTC(), j.now().UTC(),
	); err != nil {
		return fmt.Errorf("storage.SaveFill: insert fill %s: %w", f.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (instrument, quantity, notional, fills, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instrument) DO UPDATE SET
			quantity   = excluded.quantity,
			notional   = excluded.notional,
			fills      = excluded.fills,
			updated_at = excluded.updated_at
		WHERE excluded.fills >= positions.fills`,
		pos.Instrument, pos.Quantity.String(), pos.Notional.String(), pos.Fills, updatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage.SaveFill: upsert position %s: %w", pos.Instrument, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveFill: commit: %w", err)
	}
	return nil
}

// LoadPositions devuelve el último checkpoint de cada instrumento.
func (j *Journal) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT instrument, quantity, notional, fills, updated_at FROM positions ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p             domain.Position
			qty, notional string
			updatedAt     time.Time
		)
		if err := rows.Scan(&p.Instrument, &qty, &notional, &p.Fills, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: scan row: %w", err)
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: %s quantity %q: %w", p.Instrument, qty, err)
		}
		if p.Notional, err = decimal.NewFromString(notional); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: %s notional %q: %w", p.Instrument, notional, err)
		}
		p.UpdatedAt = updatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadFillIDs devuelve los event ids ya aplicados, agrupados por instrumento,
// para que la inventory siga siendo idempotente tras un reinicio.
func (j *Journal) LoadFillIDs(ctx context.Context) (map[string][]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT instrument, id FROM fills`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadFillIDs: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var instrument, id string
		if err := rows.Scan(&instrument, &id); err != nil {
			return nil, fmt.Errorf("storage.LoadFillIDs: scan row: %w", err)
		}
		out[instrument] = append(out[instrument], id)
	}
	return out, rows.Err()
}

// Fills devuelve los fills de un instrumento, los más recientes primero.
func (j *Journal) Fills(ctx context.Context, instrument string, limit int) ([]domain.Fill, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, instrument, order_ref, delta, price, filled_at
		FROM fills WHERE instrument = ?
		ORDER BY filled_at DESC, recorded_at DESC
		LIMIT ?`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Fills: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f            domain.Fill
			delta, price string
		)
		if err := rows.Scan(&f.ID, &f.Instrument, &f.OrderRef, &delta, &price, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("storage.Fills: scan row: %w", err)
		}
		f.Delta, _ = decimal.NewFromString(delta)
		f.Price, _ = decimal.NewFromString(price)
		out = append(out, f)
	}
	return out, rows.Err()
}

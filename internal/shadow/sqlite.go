package shadow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
)

// SQLiteRepository stores documents in the shadow_documents table so the
// history survives restarts.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository wraps a migrated database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) SaveDocument(ctx context.Context, thing string, slot int, kind Kind, doc string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shadow_documents (thing_name, slot, kind, document, stored_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (thing_name, slot) DO UPDATE SET
				kind = excluded.kind,
				document = excluded.document,
				stored_at = excluded.stored_at
		`, thing, slot, string(kind), doc, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("saving document: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO shadow_cursors (thing_name, kind, last_slot)
			VALUES (?, ?, ?)
			ON CONFLICT (thing_name, kind) DO UPDATE SET last_slot = excluded.last_slot
		`, thing, string(kind), slot)
		if err != nil {
			return fmt.Errorf("saving cursor: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) Document(ctx context.Context, thing string, slot int) (string, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		"SELECT document FROM shadow_documents WHERE thing_name = ? AND slot = ?",
		thing, slot,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	if err != nil {
		return "", fmt.Errorf("loading document: %w", err)
	}
	return doc, nil
}

func (r *SQLiteRepository) Cursors(ctx context.Context, thing string) (map[Kind]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT kind, last_slot FROM shadow_cursors WHERE thing_name = ?", thing,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cursors: %w", err)
	}
	defer rows.Close()

	cursors := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var slot int
		if err := rows.Scan(&kind, &slot); err != nil {
			return nil, fmt.Errorf("scanning cursor: %w", err)
		}
		cursors[Kind(kind)] = slot
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursors: %w", err)
	}
	return cursors, nil
}

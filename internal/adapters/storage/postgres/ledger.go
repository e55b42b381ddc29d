package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clinical-access-control/internal/ports/ledger"
)

// ledgerLockID es la clave del advisory lock que serializa escritores
// entre réplicas del servicio.
const ledgerLockID int64 = 0x61636c // "acl"

type Ledger struct {
	db *sql.DB
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockID); err != nil {
		return fmt.Errorf("postgres: lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(&pgTx{tx: tx, readOnly: true})
}

type pgTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *pgTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM ledger_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return value, true, nil
}

func (t *pgTx) Set(ctx context.Context, key string, value []byte) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("postgres: set %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) Remove(ctx context.Context, key string) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres: remove %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) Scan(ctx context.Context, prefix string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT key FROM ledger_entries
		WHERE starts_with(key, $1)
		ORDER BY key COLLATE "C"
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

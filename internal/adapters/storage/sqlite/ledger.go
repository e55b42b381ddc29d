package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinical-access-control/internal/ports/ledger"
)

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

func (l *Ledger) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return l.run(ctx, false, fn)
}

func (l *Ledger) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return l.run(ctx, true, fn)
}

func (l *Ledger) run(ctx context.Context, readOnly bool, fn func(tx ledger.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx, readOnly: readOnly, now: l.now}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx       *sql.Tx
	readOnly bool
	now      func() time.Time
}

func (t *sqliteTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM ledger_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	return value, true, nil
}

func (t *sqliteTx) Set(ctx context.Context, key string, value []byte) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, t.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: set %s: %w", key, err)
	}
	return nil
}

func (t *sqliteTx) Remove(ctx context.Context, key string) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: remove %s: %w", key, err)
	}
	return nil
}

func (t *sqliteTx) Scan(ctx context.Context, prefix string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT key FROM ledger_entries
		WHERE substr(key, 1, ?) = ?
		ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan %s: %w", prefix, err)
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

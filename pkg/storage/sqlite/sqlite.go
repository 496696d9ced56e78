// Package sqlite provides a SQLite-backed storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/recall/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Driver implements storage.Driver over a SQLite database.
type Driver struct {
	db *sql.DB
}

// NewDriver creates a new SQLite-backed driver.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite-specific pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// dsn appends connection parameters to the database path. _txlock=immediate
// starts every transaction with the write lock held, so concurrent writers
// queue at BEGIN instead of failing when a deferred read tries to upgrade.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_txlock=immediate"
}

// Get retrieves a record by id.
func (d *Driver) Get(ctx context.Context, id string) (*storage.Record, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, data, updated_at FROM records WHERE id = ?`, id)
	return scanRecord(row, id)
}

// Put stores a record, overwriting any existing one with the same id.
func (d *Driver) Put(ctx context.Context, record *storage.Record) error {
	if record == nil || record.ID == "" {
		return errors.New("cannot store record without an id")
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO records (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		record.ID, record.Data, time.Now().UTC())
	if err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes a record by id.
func (d *Driver) Delete(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

// List returns all records with the given id prefix, ordered by id.
func (d *Driver) List(ctx context.Context, prefix string) ([]*storage.Record, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, data, updated_at FROM records WHERE id LIKE ? || '%' ORDER BY id`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		rec := &storage.Record{}
		if err := rows.Scan(&rec.ID, &rec.Data, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunTransaction executes fn inside an immediate transaction so concurrent
// writers serialize at the database rather than racing at commit.
func (d *Driver) RunTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

// tx adapts *sql.Tx to storage.Tx.
type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) Get(id string) (*storage.Record, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT id, data, updated_at FROM records WHERE id = ?`, id)
	return scanRecord(row, id)
}

func (t *tx) Put(record *storage.Record) error {
	if record == nil || record.ID == "" {
		return errors.New("cannot store record without an id")
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO records (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		record.ID, record.Data, time.Now().UTC())
	if err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) Delete(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

func (t *tx) List(prefix string) ([]*storage.Record, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, data, updated_at FROM records WHERE id LIKE ? || '%' ORDER BY id`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		rec := &storage.Record{}
		if err := rows.Scan(&rec.ID, &rec.Data, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row *sql.Row, id string) (*storage.Record, error) {
	rec := &storage.Record{}
	err := row.Scan(&rec.ID, &rec.Data, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// classify maps backend space exhaustion onto the typed quota error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "disk I/O error") {
		return storage.QuotaError{Cause: err}
	}
	return err
}

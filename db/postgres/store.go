// Package postgres provides the PostgreSQL measurement store. It mirrors the
// ClickHouse store: rows land in a batch, and a batch becomes visible once committed.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

// Store implements the measurement store on PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool for the DSN
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS measurements (
	batch_id    UUID NOT NULL,
	product     TEXT NOT NULL,
	item        TEXT NOT NULL,
	date        DATE NOT NULL,
	actual      DOUBLE PRECISION NOT NULL,
	mix         DOUBLE PRECISION NOT NULL,
	upper_limit DOUBLE PRECISION,
	lower_limit DOUBLE PRECISION,
	seq         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS measurements_batch_idx ON measurements (product, batch_id, seq);
CREATE TABLE IF NOT EXISTS measurement_batches (
	id         UUID PRIMARY KEY,
	product    TEXT NOT NULL,
	source     TEXT NOT NULL,
	rows       INTEGER NOT NULL,
	has_limits BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS measurement_batches_product_idx ON measurement_batches (product, created_at DESC);
`

// EnsureSchema creates the tables if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertMeasurements copies rows into an uncommitted batch in one transaction
func (s *Store) InsertMeasurements(ctx context.Context, product string, batchID uuid.UUID, seqOffset int, rows []record.Measurement) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("measurements",
		"batch_id", "product", "item", "date", "actual", "mix", "upper_limit", "lower_limit", "seq"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for i, m := range rows {
		if _, err := stmt.ExecContext(ctx,
			batchID.String(), product, m.Item, m.Date, m.Actual, m.Mix,
			nullFloat(m.UpperLimit), nullFloat(m.LowerLimit), seqOffset+i,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy row %d: %w", seqOffset+i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	return tx.Commit()
}

// CommitBatch makes a batch visible to readers
func (s *Store) CommitBatch(ctx context.Context, product string, batchID uuid.UUID, source string, rows int, hasLimits bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO measurement_batches (id, product, source, rows, has_limits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, batchID.String(), product, source, rows, hasLimits, time.Now())
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Products lists products with at least one committed batch
func (s *Store) Products(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT product FROM measurement_batches ORDER BY product`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// LatestBatch returns the most recent committed batch of a product
func (s *Store) LatestBatch(ctx context.Context, product string) (uuid.UUID, bool, error) {
	var id string
	var hasLimits bool
	err := s.db.QueryRowContext(ctx, `
		SELECT id, has_limits FROM measurement_batches
		WHERE product = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, product).Scan(&id, &hasLimits)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, spcerrors.NewUnknownProductError(product)
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to find latest batch: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid batch id %q: %w", id, err)
	}
	return parsed, hasLimits, nil
}

// LoadTable reads the product's latest batch in its original row order
func (s *Store) LoadTable(ctx context.Context, product string) (*record.Table, error) {
	batchID, hasLimits, err := s.LatestBatch(ctx, product)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item, date, actual, mix, upper_limit, lower_limit
		FROM measurements
		WHERE product = $1 AND batch_id = $2
		ORDER BY seq
	`, product, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load measurements: %w", err)
	}
	defer rows.Close()

	var out []record.Measurement
	for rows.Next() {
		var m record.Measurement
		var upper, lower sql.NullFloat64
		if err := rows.Scan(&m.Item, &m.Date, &m.Actual, &m.Mix, &upper, &lower); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Date = record.Day(m.Date)
		m.UpperLimit = floatPtr(upper)
		m.LowerLimit = floatPtr(lower)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols := record.RequiredColumns
	if hasLimits {
		cols = record.AllColumns
	}
	t := &record.Table{Product: product, Rows: out}
	t.Columns = append(t.Columns, cols...)
	return t, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return record.Float(v.Float64)
}

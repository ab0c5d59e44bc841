// Package clickhouse provides the ClickHouse measurement store.
// Every ingest writes a new batch; readers see the latest committed batch of a product.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "spc",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Store implements the measurement store using ClickHouse
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewStore creates a new ClickHouse measurement store
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

var schema = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
		batch_id    UUID,
		product     LowCardinality(String),
		item        LowCardinality(String),
		date        Date,
		actual      Float64,
		mix         Float64,
		upper_limit Nullable(Float64),
		lower_limit Nullable(Float64),
		seq         UInt32
	) ENGINE = MergeTree
	ORDER BY (product, batch_id, item, date, seq)`,
	`CREATE TABLE IF NOT EXISTS measurement_batches (
		id         UUID,
		product    LowCardinality(String),
		source     String,
		rows       UInt32,
		has_limits UInt8,
		created_at DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (product, created_at)`,
}

// EnsureSchema creates the tables if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// InsertMeasurements appends rows to an uncommitted batch. seqOffset keeps
// the original row order across chunks.
func (s *Store) InsertMeasurements(ctx context.Context, product string, batchID uuid.UUID, seqOffset int, rows []record.Measurement) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO measurements (
			batch_id, product, item, date, actual, mix, upper_limit, lower_limit, seq
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i, m := range rows {
		if err := batch.Append(
			batchID, product, m.Item, m.Date, m.Actual, m.Mix,
			m.UpperLimit, m.LowerLimit, uint32(seqOffset+i),
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// CommitBatch makes a batch visible to readers
func (s *Store) CommitBatch(ctx context.Context, product string, batchID uuid.UUID, source string, rows int, hasLimits bool) error {
	query := `
		INSERT INTO measurement_batches (id, product, source, rows, has_limits, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return s.conn.Exec(ctx, query, batchID, product, source, uint32(rows), boolToUInt8(hasLimits), time.Now())
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Products lists products with at least one committed batch
func (s *Store) Products(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT product FROM measurement_batches ORDER BY product`)
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
	rows, err := s.conn.Query(ctx, `
		SELECT id, has_limits
		FROM measurement_batches
		WHERE product = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, product)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to find latest batch: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return uuid.Nil, false, spcerrors.NewUnknownProductError(product)
	}
	var id uuid.UUID
	var hasLimits uint8
	if err := rows.Scan(&id, &hasLimits); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to scan batch: %w", err)
	}
	return id, hasLimits == 1, nil
}

// LoadTable reads the product's latest batch in its original row order
func (s *Store) LoadTable(ctx context.Context, product string) (*record.Table, error) {
	batchID, hasLimits, err := s.LatestBatch(ctx, product)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT item, date, actual, mix, upper_limit, lower_limit
		FROM measurements
		WHERE product = ? AND batch_id = ?
		ORDER BY seq
	`, product, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load measurements: %w", err)
	}
	defer rows.Close()

	var out []record.Measurement
	for rows.Next() {
		var m record.Measurement
		if err := rows.Scan(&m.Item, &m.Date, &m.Actual, &m.Mix, &m.UpperLimit, &m.LowerLimit); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Date = record.Day(m.Date)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tableFor(product, out, hasLimits), nil
}

// tableFor declares the limit columns only when the source had them
func tableFor(product string, rows []record.Measurement, hasLimits bool) *record.Table {
	cols := record.RequiredColumns
	if hasLimits {
		cols = record.AllColumns
	}
	t := &record.Table{Product: product, Rows: rows}
	t.Columns = append(t.Columns, cols...)
	return t
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Package ingestion loads parsed measurement tables into a store.
// Each product gets its own batch, committed only after every row is written.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"composition-spc/analysis/record"
)

// DefaultBatchSize is the number of rows sent per insert.
const DefaultBatchSize = 1000

// Writer is implemented by the ClickHouse and PostgreSQL stores
type Writer interface {
	InsertMeasurements(ctx context.Context, product string, batchID uuid.UUID, seqOffset int, rows []record.Measurement) error
	CommitBatch(ctx context.Context, product string, batchID uuid.UUID, source string, rows int, hasLimits bool) error
}

// Loader writes tables to a store in fixed-size chunks
type Loader struct {
	writer    Writer
	batchSize int
	logger    zerolog.Logger
}

// NewLoader creates a new loader
func NewLoader(writer Writer, logger zerolog.Logger) *Loader {
	return &Loader{
		writer:    writer,
		batchSize: DefaultBatchSize,
		logger:    logger.With().Str("component", "ingestion").Logger(),
	}
}

// WithBatchSize overrides the chunk size
func (l *Loader) WithBatchSize(n int) *Loader {
	if n > 0 {
		l.batchSize = n
	}
	return l
}

// ProductResult tracks one product's batch
type ProductResult struct {
	Product string    `json:"product"`
	BatchID uuid.UUID `json:"batch_id"`
	Rows    int       `json:"rows"`
	Chunks  int       `json:"chunks"`
}

// Result tracks the result of a load
type Result struct {
	Source       string          `json:"source"`
	Products     []ProductResult `json:"products"`
	Rows         int             `json:"rows"`
	Duration     time.Duration   `json:"duration"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Load writes every table as a new batch. A failure leaves earlier products
// committed and the failing product's batch uncommitted, so readers keep
// seeing its previous batch.
func (l *Loader) Load(ctx context.Context, source string, tables []*record.Table) (*Result, error) {
	startTime := time.Now()
	result := &Result{Source: source, Products: make([]ProductResult, 0, len(tables))}

	for _, t := range tables {
		pr, err := l.loadTable(ctx, source, t)
		if err != nil {
			result.ErrorMessage = err.Error()
			result.Duration = time.Since(startTime)
			return result, err
		}
		result.Products = append(result.Products, pr)
		result.Rows += pr.Rows
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	l.logger.Info().
		Str("source", source).
		Int("products", len(result.Products)).
		Int("rows", result.Rows).
		Dur("duration", result.Duration).
		Msg("Load complete")
	return result, nil
}

func (l *Loader) loadTable(ctx context.Context, source string, t *record.Table) (ProductResult, error) {
	pr := ProductResult{Product: t.Product, BatchID: uuid.New()}

	for i := 0; i < len(t.Rows); i += l.batchSize {
		end := i + l.batchSize
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		if err := l.writer.InsertMeasurements(ctx, t.Product, pr.BatchID, i, t.Rows[i:end]); err != nil {
			return pr, fmt.Errorf("failed to insert %s chunk %d: %w", t.Product, i/l.batchSize, err)
		}
		pr.Chunks++
		pr.Rows += end - i
	}

	if err := l.writer.CommitBatch(ctx, t.Product, pr.BatchID, source, pr.Rows, t.HasSpecColumns()); err != nil {
		return pr, fmt.Errorf("failed to commit %s batch: %w", t.Product, err)
	}

	l.logger.Debug().
		Str("product", t.Product).
		Str("batch_id", pr.BatchID.String()).
		Int("rows", pr.Rows).
		Msg("Batch committed")
	return pr, nil
}

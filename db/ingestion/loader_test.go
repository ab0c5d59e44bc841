package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composition-spc/analysis/record"
)

type insertCall struct {
	product string
	batchID uuid.UUID
	offset  int
	rows    int
}

type commitCall struct {
	product   string
	batchID   uuid.UUID
	rows      int
	hasLimits bool
}

type recordingWriter struct {
	inserts []insertCall
	commits []commitCall
	failOn  string
}

func (w *recordingWriter) InsertMeasurements(ctx context.Context, product string, batchID uuid.UUID, seqOffset int, rows []record.Measurement) error {
	if product == w.failOn {
		return errors.New("connection reset")
	}
	w.inserts = append(w.inserts, insertCall{product, batchID, seqOffset, len(rows)})
	return nil
}

func (w *recordingWriter) CommitBatch(ctx context.Context, product string, batchID uuid.UUID, source string, rows int, hasLimits bool) error {
	w.commits = append(w.commits, commitCall{product, batchID, rows, hasLimits})
	return nil
}

func tableOf(product string, n int) *record.Table {
	rows := make([]record.Measurement, n)
	for i := range rows {
		rows[i] = record.Measurement{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i), Item: "SiO2", Actual: 60, Mix: 60}
	}
	return record.NewTable(product, rows)
}

func TestLoader_ChunksAndCommits(t *testing.T) {
	w := &recordingWriter{}
	l := NewLoader(w, zerolog.Nop()).WithBatchSize(1000)

	res, err := l.Load(context.Background(), "plant.xlsx", []*record.Table{tableOf("E-glass", 2500), tableOf("ECR", 10)})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2510, res.Rows)
	require.Len(t, res.Products, 2)
	assert.Equal(t, 3, res.Products[0].Chunks)

	require.Len(t, w.inserts, 4)
	assert.Equal(t, []int{0, 1000, 2000}, []int{w.inserts[0].offset, w.inserts[1].offset, w.inserts[2].offset})
	assert.Equal(t, 500, w.inserts[2].rows)
	for _, c := range w.inserts[:3] {
		assert.Equal(t, res.Products[0].BatchID, c.batchID)
	}

	require.Len(t, w.commits, 2)
	assert.Equal(t, commitCall{"E-glass", res.Products[0].BatchID, 2500, true}, w.commits[0])
	assert.NotEqual(t, res.Products[0].BatchID, res.Products[1].BatchID)
}

func TestLoader_FailureLeavesBatchUncommitted(t *testing.T) {
	w := &recordingWriter{failOn: "ECR"}
	l := NewLoader(w, zerolog.Nop())

	res, err := l.Load(context.Background(), "plant.xlsx", []*record.Table{tableOf("E-glass", 5), tableOf("ECR", 5)})
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "ECR")
	require.Len(t, w.commits, 1)
	assert.Equal(t, "E-glass", w.commits[0].product)
}

func TestLoader_EmptyTableStillCommits(t *testing.T) {
	w := &recordingWriter{}
	table := &record.Table{Product: "S-glass", Columns: record.RequiredColumns}

	_, err := NewLoader(w, zerolog.Nop()).Load(context.Background(), "csv", []*record.Table{table})
	require.NoError(t, err)
	assert.Empty(t, w.inserts)
	require.Len(t, w.commits, 1)
	assert.False(t, w.commits[0].hasLimits)
}

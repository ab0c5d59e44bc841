package clickhouse

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

func TestTableFor(t *testing.T) {
	withLimits := tableFor("E-glass", nil, true)
	assert.True(t, withLimits.HasSpecColumns())
	assert.NoError(t, withLimits.Validate())

	bare := tableFor("E-glass", nil, false)
	assert.False(t, bare.HasSpecColumns())
	assert.NoError(t, bare.Validate())

	bare.Columns[0] = record.ColumnItem
	assert.Equal(t, record.ColumnDate, record.RequiredColumns[0], "shared schema slices are not aliased")
}

// Runs against a live server when CLICKHOUSE_TEST_HOST is set.
func TestStore_RoundTrip(t *testing.T) {
	host := os.Getenv("CLICKHOUSE_TEST_HOST")
	if host == "" {
		t.Skip("CLICKHOUSE_TEST_HOST not set")
	}
	cfg := DefaultConfig()
	cfg.Host = host
	if p, err := strconv.Atoi(os.Getenv("CLICKHOUSE_TEST_PORT")); err == nil {
		cfg.Port = p
	}
	cfg.Database = "default"

	s, err := NewStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	product := "test-" + uuid.NewString()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []record.Measurement{
		{Date: day, Item: "SiO2", Actual: 60.1, Mix: 60, UpperLimit: record.Float(65), LowerLimit: record.Float(55)},
		{Date: day, Item: "CaO", Actual: 22, Mix: 21.5},
	}

	batchID := uuid.New()
	require.NoError(t, s.InsertMeasurements(ctx, product, batchID, 0, rows))

	_, err = s.LoadTable(ctx, product)
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeUnknownProduct), "uncommitted batches are invisible")

	require.NoError(t, s.CommitBatch(ctx, product, batchID, "test", len(rows), true))

	table, err := s.LoadTable(ctx, product)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, rows[0], table.Rows[0])
	assert.Nil(t, table.Rows[1].UpperLimit)

	products, err := s.Products(ctx)
	require.NoError(t, err)
	assert.Contains(t, products, product)
}

package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composition-spc/analysis/record"
	spcerrors "composition-spc/pkg/errors"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(item string, n int) []record.Measurement {
	rows := make([]record.Measurement, n)
	for i := 0; i < n; i++ {
		rows[i] = record.Measurement{Date: base.AddDate(0, 0, i), Item: item, Actual: float64(i)}
	}
	return rows
}

func TestLastN_PerItem(t *testing.T) {
	rows := append(series("SiO2", 50), series("CaO", 10)...)
	tbl := record.NewTable("GF-100", rows)

	out, warnings, err := Apply(tbl, Selection{Mode: ModeLast30})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	sio2 := out.Series("SiO2")
	require.Equal(t, 30, sio2.Len())
	// The 30 most recent of days 0..49 are days 20..49.
	assert.Equal(t, base.AddDate(0, 0, 20), sio2.Points[0].Date)
	assert.Equal(t, base.AddDate(0, 0, 49), sio2.Points[29].Date)

	assert.Equal(t, 10, out.Series("CaO").Len(), "items with fewer than N points keep all of them")
}

func TestLastN_NotGlobal(t *testing.T) {
	// CaO is entirely older than SiO2; a global top-N would drop it.
	var rows []record.Measurement
	for i := 0; i < 40; i++ {
		rows = append(rows, record.Measurement{Date: base.AddDate(0, 0, 100+i), Item: "SiO2"})
	}
	rows = append(rows, series("CaO", 5)...)

	out := LastN(record.NewTable("GF-100", rows), 30)
	assert.Equal(t, 30, out.Series("SiO2").Len())
	assert.Equal(t, 5, out.Series("CaO").Len())
	assert.Len(t, out.Rows, 35)
}

func TestLast90(t *testing.T) {
	tbl := record.NewTable("GF-100", series("SiO2", 120))
	out, _, err := Apply(tbl, Selection{Mode: ModeLast90})
	require.NoError(t, err)
	assert.Len(t, out.Rows, 90)
}

func TestAll(t *testing.T) {
	tbl := record.NewTable("GF-100", series("SiO2", 120))
	out, _, err := Apply(tbl, Selection{Mode: ModeAll})
	require.NoError(t, err)
	assert.Len(t, out.Rows, 120)
}

func TestDateRange_Inclusive(t *testing.T) {
	tbl := record.NewTable("GF-100", append(series("SiO2", 20), series("CaO", 20)...))
	start := base.AddDate(0, 0, 5)
	end := base.AddDate(0, 0, 9).Add(13 * time.Hour)

	out, warnings, err := Apply(tbl, Selection{Mode: ModeDateRange, Start: &start, End: &end})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 5, out.Series("SiO2").Len())
	assert.Equal(t, 5, out.Series("CaO").Len())
	for _, m := range out.Rows {
		assert.False(t, m.Date.Before(start))
		assert.False(t, m.Date.After(base.AddDate(0, 0, 9)))
	}
}

func TestDateRange_MissingBoundFallsBackToAll(t *testing.T) {
	tbl := record.NewTable("GF-100", series("SiO2", 20))
	start := base

	out, warnings, err := Apply(tbl, Selection{Mode: ModeDateRange, Start: &start})
	require.NoError(t, err)
	assert.Equal(t, []string{WarnIncompleteRange}, warnings)
	assert.Len(t, out.Rows, 20)
}

func TestDateRange_Inverted(t *testing.T) {
	tbl := record.NewTable("GF-100", series("SiO2", 5))
	start, end := base.AddDate(0, 0, 3), base

	_, _, err := Apply(tbl, Selection{Mode: ModeDateRange, Start: &start, End: &end})
	require.Error(t, err)
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidWindow))
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":           ModeLast30,
		"last_30":    ModeLast30,
		"LAST_90":    ModeLast90,
		"all":        ModeAll,
		"date_range": ModeDateRange,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("last_7")
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidWindow))
}

func TestApply_UnknownMode(t *testing.T) {
	_, _, err := Apply(record.NewTable("x", nil), Selection{Mode: "weekly"})
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidWindow))
}

package report

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composition-spc/analysis/record"
	"composition-spc/analysis/window"
	spcerrors "composition-spc/pkg/errors"
)

type fakeSource struct {
	tables map[string]*record.Table
}

func (f *fakeSource) Products(ctx context.Context) ([]string, error) {
	var out []string
	for p := range f.tables {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeSource) LoadTable(ctx context.Context, product string) (*record.Table, error) {
	t, ok := f.tables[product]
	if !ok {
		return nil, spcerrors.NewUnknownProductError(product)
	}
	return t, nil
}

func day(i int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// glassTable has a clean SiO2 series with one outlier on day 9 and an
// Al2O3 series whose day 2 row breaks its limits while staying in control.
func glassTable() *record.Table {
	var rows []record.Measurement
	sio2 := []float64{60.1, 59.9, 60.0, 60.2, 59.8, 60.0, 60.1, 59.9, 60.0, 66.0}
	for i, v := range sio2 {
		rows = append(rows, record.Measurement{
			Date: day(i), Item: "SiO2", Actual: v, Mix: 60,
			UpperLimit: record.Float(70), LowerLimit: record.Float(50),
		})
	}
	al := []float64{14.0, 14.2, 15.6, 14.1, 14.3, 14.9}
	for i, v := range al {
		rows = append(rows, record.Measurement{
			Date: day(i), Item: "Al2O3", Actual: v, Mix: 14,
			UpperLimit: record.Float(15.5), LowerLimit: record.Float(13.5),
		})
	}
	return record.NewTable("E-glass", rows)
}

func newTestEngine(tables ...*record.Table) *Engine {
	src := &fakeSource{tables: make(map[string]*record.Table)}
	for _, t := range tables {
		src.tables[t.Product] = t
	}
	e := NewEngine(src, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestAggregate_DedupAndOrder(t *testing.T) {
	a, err := Aggregate(glassTable(), 2)
	require.NoError(t, err)

	require.Len(t, a.Rows, 2)

	assert.Equal(t, KindOutlier, a.Rows[0].Kind)
	assert.Equal(t, "SiO2", a.Rows[0].Item)
	assert.Equal(t, day(9), a.Rows[0].Date)
	assert.Contains(t, a.Rows[0].Note, "σ deviation")

	assert.Equal(t, KindOutOfSpec, a.Rows[1].Kind)
	assert.Equal(t, "Al2O3", a.Rows[1].Item)
	assert.Equal(t, NoteOutOfSpec, a.Rows[1].Note)

	assert.Equal(t, Summary{Outliers: 1, OutOfSpec: 1, Items: 2, ItemsAnalyzed: 2}, a.Summary)
}

func TestAggregate_OutlierWinsOverSpec(t *testing.T) {
	var rows []record.Measurement
	for i := 0; i < 9; i++ {
		rows = append(rows, record.Measurement{
			Date: day(i), Item: "CaO", Actual: 20, Mix: 20,
			UpperLimit: record.Float(25), LowerLimit: record.Float(15),
		})
	}
	rows = append(rows, record.Measurement{
		Date: day(9), Item: "CaO", Actual: 40, Mix: 20,
		UpperLimit: record.Float(25), LowerLimit: record.Float(15),
	})

	a, err := Aggregate(record.NewTable("p", rows), 2)
	require.NoError(t, err)
	require.Len(t, a.Rows, 1, "a row is never tagged twice")
	assert.Equal(t, KindOutlier, a.Rows[0].Kind)
	assert.Equal(t, 1, a.Summary.Outliers)
	assert.Zero(t, a.Summary.OutOfSpec)
}

func TestAggregate_SummaryMatchesRows(t *testing.T) {
	a, err := Aggregate(glassTable(), 1)
	require.NoError(t, err)

	var outliers, oos int
	items := map[string]bool{}
	for _, r := range a.Rows {
		if r.Kind == KindOutlier {
			outliers++
		} else {
			oos++
		}
		items[r.Item] = true
	}
	assert.Equal(t, outliers, a.Summary.Outliers)
	assert.Equal(t, oos, a.Summary.OutOfSpec)
	assert.Equal(t, len(items), a.Summary.Items)

	for i := 1; i < len(a.Rows); i++ {
		assert.False(t, a.Rows[i].Date.After(a.Rows[i-1].Date), "rows are newest first")
	}
}

func TestAggregate_InvalidSigma(t *testing.T) {
	_, err := Aggregate(glassTable(), -1)
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidSigma))
}

func TestAnalyze(t *testing.T) {
	e := newTestEngine(glassTable())

	res, err := e.Analyze(context.Background(), Request{
		Product:   "E-glass",
		Selection: window.Selection{Mode: window.ModeAll},
		Sigma:     2,
	})
	require.NoError(t, err)

	assert.Equal(t, "E-glass", res.Product)
	assert.Equal(t, 16, res.RowsLoaded)
	assert.Equal(t, 16, res.RowsAnalyzed)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "SiO2", res.Items[0].Item)
	assert.Equal(t, 1, res.Items[0].OutlierCount)
	assert.InDelta(t, 0.1, res.Items[0].OutlierRatio, 1e-12)
	assert.True(t, res.Items[0].Points[9].Outlier)
	assert.Equal(t, 1, res.Items[1].Compliance.OutOfSpec)
	assert.Equal(t, day(0), *res.Audit.FirstDate)
	assert.Equal(t, day(9), *res.Audit.LastDate)
	assert.Equal(t, 2, res.Anomalies.Summary.ItemsAnalyzed)
}

func TestAnalyze_Idempotent(t *testing.T) {
	e := newTestEngine(glassTable())
	req := Request{Product: "E-glass", Selection: window.Selection{Mode: window.ModeLast30}, Sigma: DefaultSigma}

	first, err := e.Analyze(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.Anomalies, second.Anomalies)
	assert.Equal(t, first.Notices, second.Notices)
	assert.Equal(t, first.Warnings, second.Warnings)
	assert.Equal(t, DefaultSigma, first.Audit.Sigma)
}

func TestAnalyze_ItemFilter(t *testing.T) {
	e := newTestEngine(glassTable())

	res, err := e.Analyze(context.Background(), Request{
		Product:   "E-glass",
		Selection: window.Selection{Mode: window.ModeAll},
		Sigma:     DefaultSigma,
		Items:     []string{"Al2O3"},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Al2O3", res.Items[0].Item)
	assert.Equal(t, 1, res.Anomalies.Summary.ItemsAnalyzed)
}

func TestAnalyze_Notices(t *testing.T) {
	rows := []record.Measurement{
		{Date: day(0), Item: "Fe2O3", Actual: 0.3, Mix: 0.3},
		{Date: day(1), Item: "Fe2O3", Actual: 0.3, Mix: 0.3},
	}
	e := newTestEngine(record.NewTable("p", rows))

	res, err := e.Analyze(context.Background(), Request{Product: "p", Selection: window.Selection{Mode: window.ModeAll}, Sigma: DefaultSigma})
	require.NoError(t, err)

	var codes []string
	for _, n := range res.Notices {
		codes = append(codes, n.Code)
	}
	assert.ElementsMatch(t, []string{spcerrors.ErrCodeDegenerateSeries, spcerrors.ErrCodeMissingSpecLimits}, codes)
	assert.False(t, res.Items[0].Capability.Applicable())
	assert.Empty(t, res.Anomalies.Rows)
}

func TestAnalyze_Errors(t *testing.T) {
	e := newTestEngine(glassTable())
	ctx := context.Background()

	_, err := e.Analyze(ctx, Request{Product: "S-glass", Sigma: DefaultSigma})
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeUnknownProduct))

	_, err = e.Analyze(ctx, Request{Product: "E-glass", Sigma: -2})
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidSigma))

	start, end := day(5), day(1)
	_, err = e.Analyze(ctx, Request{Product: "E-glass", Selection: window.Selection{Mode: window.ModeDateRange, Start: &start, End: &end}, Sigma: DefaultSigma})
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidWindow))

	bad := &record.Table{Product: "bad", Columns: []record.Column{record.ColumnDate, record.ColumnItem}}
	_, err = newTestEngine(bad).Analyze(ctx, Request{Product: "bad", Sigma: DefaultSigma})
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeMissingColumn))
}

func TestAnalyze_IncompleteRangeFallsBack(t *testing.T) {
	e := newTestEngine(glassTable())
	start := day(3)

	res, err := e.Analyze(context.Background(), Request{
		Product:   "E-glass",
		Selection: window.Selection{Mode: window.ModeDateRange, Start: &start},
		Sigma:     DefaultSigma,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, window.WarnIncompleteRange)
	assert.Equal(t, 16, res.RowsAnalyzed)
}

func TestItemDetail(t *testing.T) {
	e := newTestEngine(glassTable())
	ctx := context.Background()

	start, end := day(0), day(3)
	ia, _, err := e.ItemDetail(ctx, "E-glass", "SiO2", window.Selection{Mode: window.ModeDateRange, Start: &start, End: &end}, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, ia.N)
	assert.Zero(t, ia.OutlierCount)

	_, _, err = e.ItemDetail(ctx, "E-glass", "MgO", window.Selection{Mode: window.ModeAll}, 3)
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeUnknownItem))

	late, later := day(20), day(25)
	_, _, err = e.ItemDetail(ctx, "E-glass", "SiO2", window.Selection{Mode: window.ModeDateRange, Start: &late, End: &later}, 3)
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeEmptySelection))
}

func TestAnalyze_SigmaOutsideOperatorRangeWarns(t *testing.T) {
	e := newTestEngine(glassTable())

	res, err := e.Analyze(context.Background(), Request{Product: "E-glass", Sigma: 5, Selection: window.Selection{Mode: window.ModeAll}})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "outside the usual operator range")

	res, err = e.Analyze(context.Background(), Request{Product: "E-glass", Sigma: 2.5, Selection: window.Selection{Mode: window.ModeAll}})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
}

func TestAnalyze_ZeroSigmaRejected(t *testing.T) {
	e := newTestEngine(glassTable())

	_, err := e.AnalyzeTable(glassTable(), Request{Product: "E-glass", Selection: window.Selection{Mode: window.ModeAll}})
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidSigma))

	_, _, err = e.ItemDetail(context.Background(), "E-glass", "SiO2", window.Selection{Mode: window.ModeAll}, 0)
	assert.True(t, spcerrors.IsCode(err, spcerrors.ErrCodeInvalidSigma))
}

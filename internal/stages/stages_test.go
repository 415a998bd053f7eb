package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo/memory"
	"github.com/shaiso/orderpipe/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newConfig(t *testing.T, files map[string]string) (Config, *memory.Store) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	store := memory.New()
	return Config{
		Orders: store.Orders(),
		Loader: source.NewLoader(source.Config{BaseDir: dir}),
		Now:    func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}, store
}

func TestPipeline_Order(t *testing.T) {
	cfg, _ := newConfig(t, nil)
	stages := Pipeline(cfg)

	require.Len(t, stages, domain.StepCount)
	for i, s := range stages {
		assert.Equal(t, i+1, s.Number())
		assert.Equal(t, domain.StepNames[i], s.Name())
	}
}

func TestIngest_CSV(t *testing.T) {
	cfg, store := newConfig(t, map[string]string{
		"orders.csv": "orderId,CustomerId,Amount,OrderDate\nO1,C1,10,2024-01-05\nO2,C2,,\n",
	})
	runID := uuid.New()

	n, err := NewIngest(cfg).Run(context.Background(), Input{RunID: runID, SourceRef: "orders.csv"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := store.Orders().ListLanding(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "O1", rows[0].OrderID)
	assert.Equal(t, domain.SourceTypeCSV, rows[0].SourceType)
	assert.Nil(t, rows[0].RawPayload)
	require.NotNil(t, rows[1].Amount, "empty CSV cell is present")
	assert.Equal(t, "", *rows[1].Amount)
}

func TestIngest_JSONKeepsRawPayload(t *testing.T) {
	cfg, store := newConfig(t, map[string]string{
		"orders.json": `[{"OrderId":"O1","CustomerId":"C1","Amount":250,"OrderDate":"2024-02-01","Extra":true}]`,
	})
	runID := uuid.New()

	n, err := NewIngest(cfg).Run(context.Background(), Input{RunID: runID, SourceRef: "orders.json"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.Orders().ListLanding(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].RawPayload)
	assert.JSONEq(t, `{"OrderId":"O1","CustomerId":"C1","Amount":250,"OrderDate":"2024-02-01","Extra":true}`, *rows[0].RawPayload)
	assert.Equal(t, "250", *rows[0].Amount)
}

func TestIngest_MissingSource(t *testing.T) {
	cfg, _ := newConfig(t, nil)
	_, err := NewIngest(cfg).Run(context.Background(), Input{RunID: uuid.New(), SourceRef: "missing.csv"})
	assert.ErrorIs(t, err, source.ErrSourceRead)
}

func TestExtract_ReadCountIncludesDropped(t *testing.T) {
	cfg, store := newConfig(t, nil)
	ctx := context.Background()
	runID := uuid.New()

	_, err := store.Orders().InsertLanding(ctx, []domain.LandingOrder{
		{RunID: runID, OrderID: " O1 ", CustomerID: " C1 ", Amount: strPtr("12.5"), OrderDate: "2024-03-04"},
		{RunID: runID, OrderID: "   ", CustomerID: "C2", Amount: strPtr("5")},
		{RunID: runID, OrderID: "O3", CustomerID: "", OrderDate: "not a date"},
	})
	require.NoError(t, err)

	n, err := NewExtract(cfg).Run(ctx, Input{RunID: runID})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "Extract reports rows read")

	staged, err := store.Orders().ListStaging(ctx, runID)
	require.NoError(t, err)
	require.Len(t, staged, 2)

	assert.Equal(t, "O1", staged[0].OrderID)
	assert.Equal(t, "C1", staged[0].CustomerID)
	assert.Equal(t, 12.5, staged[0].Amount)
	require.NotNil(t, staged[0].OrderDate)
	assert.Equal(t, "2024-03-04", *staged[0].OrderDate)

	assert.Equal(t, domain.UnknownCustomer, staged[1].CustomerID)
	assert.Equal(t, 0.0, staged[1].Amount)
	assert.Nil(t, staged[1].OrderDate)
}

func TestParseAmount(t *testing.T) {
	assert.Equal(t, 0.0, ParseAmount(nil))
	assert.Equal(t, 0.0, ParseAmount(strPtr("")))
	assert.Equal(t, 0.0, ParseAmount(strPtr("abc")))
	assert.Equal(t, 42.25, ParseAmount(strPtr(" 42.25 ")))
}

func TestParseOrderDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-02", "2024-01-02"},
		{"2024-01-02T23:30:00Z", "2024-01-02"},
		{"2024-01-02T23:30:00-05:00", "2024-01-03"},
		{"2024-01-02 08:00:00", "2024-01-02"},
		{"01/15/2024", "2024-01-15"},
		{"1/5/2024", "2024-01-05"},
		{"Jan 7, 2024", "2024-01-07"},
	}
	for _, tt := range tests {
		got := ParseOrderDate(tt.in)
		if assert.NotNil(t, got, tt.in) {
			assert.Equal(t, tt.want, *got, tt.in)
		}
	}

	assert.Nil(t, ParseOrderDate(""))
	assert.Nil(t, ParseOrderDate("yesterday"))
}

func TestTransform_Categories(t *testing.T) {
	cfg, store := newConfig(t, nil)
	ctx := context.Background()
	runID := uuid.New()

	amounts := []float64{10, 49.99, 50, 199.99, 200, 1000}
	var rows []domain.StagingOrder
	for i, a := range amounts {
		rows = append(rows, domain.StagingOrder{RunID: runID, OrderID: string(rune('A' + i)), CustomerID: "C", Amount: a})
	}
	_, err := store.Orders().InsertStaging(ctx, rows)
	require.NoError(t, err)

	n, err := NewTransform(cfg).Run(ctx, Input{RunID: runID})
	require.NoError(t, err)
	assert.Equal(t, len(amounts), n)

	out, err := store.Orders().ListTransformed(ctx, runID)
	require.NoError(t, err)
	require.Len(t, out, len(amounts))

	want := []domain.AmountCategory{
		domain.AmountCategoryLow,
		domain.AmountCategoryLow,
		domain.AmountCategoryMedium,
		domain.AmountCategoryMedium,
		domain.AmountCategoryHigh,
		domain.AmountCategoryHigh,
	}
	for i, row := range out {
		assert.Equal(t, want[i], row.AmountCategory, "amount %v", row.Amount)
	}
}

func TestLoad_LastWriteWinsAcrossRuns(t *testing.T) {
	cfg, store := newConfig(t, nil)
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()

	_, err := store.Orders().InsertTransformed(ctx, []domain.TransformedOrder{
		{RunID: first, OrderID: "O1", CustomerID: "C1", Amount: 10, AmountCategory: domain.AmountCategoryLow},
	})
	require.NoError(t, err)
	_, err = store.Orders().InsertTransformed(ctx, []domain.TransformedOrder{
		{RunID: second, OrderID: "O1", CustomerID: "C9", Amount: 500, AmountCategory: domain.AmountCategoryHigh},
	})
	require.NoError(t, err)

	load := NewLoad(cfg)
	n, err := load.Run(ctx, Input{RunID: first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = load.Run(ctx, Input{RunID: second})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	target, err := store.Orders().GetTarget(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "C9", target.CustomerID)
	assert.Equal(t, domain.AmountCategoryHigh, target.AmountCategory)
	assert.Equal(t, 1, store.Orders().TargetCount())
}

func TestStages_EndToEnd(t *testing.T) {
	cfg, store := newConfig(t, map[string]string{
		"orders.csv": "OrderId,CustomerId,Amount,OrderDate\nO1,C1,10,2024-01-01\n,C2,20,2024-01-02\nO3,,300,2024-01-03\n",
	})
	ctx := context.Background()
	in := Input{RunID: uuid.New(), SourceRef: "orders.csv"}

	var counts []int
	for _, s := range Pipeline(cfg) {
		n, err := s.Run(ctx, in)
		require.NoError(t, err, s.Name())
		counts = append(counts, n)
	}
	assert.Equal(t, []int{3, 3, 2, 2}, counts)

	o3, err := store.Orders().GetTarget(ctx, "O3")
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownCustomer, o3.CustomerID)
	assert.Equal(t, domain.AmountCategoryHigh, o3.AmountCategory)
	assert.Equal(t, 2, store.Orders().TargetCount())
}

type progressRecorder struct {
	calls [][2]int
}

func (p *progressRecorder) record(processed, total int) {
	p.calls = append(p.calls, [2]int{processed, total})
}

func TestStages_ReportProgress(t *testing.T) {
	cfg, _ := newConfig(t, map[string]string{
		"orders.csv": "OrderId,CustomerId,Amount,OrderDate\nO1,C1,10,2024-01-01\n,C2,20,2024-01-02\nO3,,300,2024-01-03\n",
	})
	ctx := context.Background()
	runID := uuid.New()

	want := map[string][][2]int{
		"Data Pull": {{0, 3}, {3, 3}},
		"Extract":   {{0, 3}, {3, 3}},
		"Transform": {{0, 2}, {2, 2}},
		"Migrate":   {{0, 2}, {2, 2}},
	}
	for _, s := range Pipeline(cfg) {
		rec := &progressRecorder{}
		_, err := s.Run(ctx, Input{RunID: runID, SourceRef: "orders.csv", Progress: rec.record})
		require.NoError(t, err, s.Name())
		assert.Equal(t, want[s.Name()], rec.calls, s.Name())
	}
}

func TestInput_TickEveryInterval(t *testing.T) {
	rec := &progressRecorder{}
	in := Input{Progress: rec.record}
	total := 2*ProgressInterval + 5
	for i := 1; i <= total; i++ {
		in.tick(i, total)
	}
	assert.Equal(t, [][2]int{{ProgressInterval, total}, {2 * ProgressInterval, total}}, rec.calls)

	Input{}.report(1, 1)
}

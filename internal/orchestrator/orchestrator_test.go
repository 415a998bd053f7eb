package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo/memory"
	"github.com/shaiso/orderpipe/internal/runlog"
	"github.com/shaiso/orderpipe/internal/source"
	"github.com/shaiso/orderpipe/internal/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStage — стадия с заданным результатом.
type fakeStage struct {
	number int
	rows   int
	err    error
	panic  string

	// progress — значения, которые стадия сообщает через Input.Progress.
	progress [][2]int

	// started закрывается при первом вызове; release блокирует стадию до закрытия.
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeStage) Number() int  { return f.number }
func (f *fakeStage) Name() string { return domain.StepName(f.number) }

func (f *fakeStage) Run(_ context.Context, in stages.Input) (int, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()

	if first && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.panic != "" {
		panic(f.panic)
	}
	for _, p := range f.progress {
		if in.Progress != nil {
			in.Progress(p[0], p[1])
		}
	}
	return f.rows, f.err
}

func (f *fakeStage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fakeStages(rows ...int) []*fakeStage {
	out := make([]*fakeStage, domain.StepCount)
	for i := range out {
		out[i] = &fakeStage{number: i + 1, rows: rows[i]}
	}
	return out
}

func asStages(fs []*fakeStage) []stages.Stage {
	out := make([]stages.Stage, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

type fixture struct {
	store     *memory.Store
	registry  *Registry
	sequencer *Sequencer
}

func newFixture(stageList []stages.Stage) *fixture {
	store := memory.New()
	sink := runlog.New(runlog.Config{Store: store.Logs()})
	return &fixture{
		store:    store,
		registry: NewRegistry(store.Runs(), nil),
		sequencer: NewSequencer(SequencerConfig{
			Runs:   store.Runs(),
			Steps:  store.Steps(),
			Stages: stageList,
			Sink:   sink,
		}),
	}
}

func (f *fixture) steps(t *testing.T, runID uuid.UUID) []domain.Step {
	t.Helper()
	steps, err := f.store.Steps().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, steps, domain.StepCount)
	return steps
}

func (f *fixture) messages(t *testing.T, runID uuid.UUID) []string {
	t.Helper()
	events, err := f.store.Logs().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	var out []string
	for _, e := range events {
		out = append(out, e.Message)
	}
	return out
}

func TestRegistry_CreateRun(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)

	run, err := f.store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Number)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Nil(t, run.ClaimedAt)

	for i, st := range f.steps(t, id) {
		assert.Equal(t, i+1, st.Number)
		assert.Equal(t, domain.StepNames[i], st.Name)
		assert.Equal(t, domain.StepStatusPending, st.Status)
		assert.Nil(t, st.StartedAt)
	}
}

func TestRegistry_EmptyName(t *testing.T) {
	f := newFixture(nil)
	_, err := f.registry.CreateRun(context.Background(), "  ", "orders.csv")
	assert.ErrorIs(t, err, ErrInvalidRun)
}

func TestRegistry_ConcurrentNumbering(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	const n = 20
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, id := range ids {
		run, err := f.store.Runs().GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, seen[run.Number], "duplicate number %d", run.Number)
		seen[run.Number] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "missing number %d", i)
	}

	// Нумерация независима для каждого pipeline.
	other, err := f.registry.CreateRun(ctx, "Other", "x.csv")
	require.NoError(t, err)
	run, err := f.store.Runs().GetByID(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Number)
}

func TestRegistry_WorkerIDPreclaims(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	run, err := f.registry.Create(ctx, RunRequest{PipelineName: "Orders", SourceRef: "a.csv", WorkerID: "local"})
	require.NoError(t, err)
	assert.NotNil(t, run.ClaimedAt)

	unclaimed, err := f.store.Runs().ListUnclaimed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unclaimed)
}

func TestSequencer_Success(t *testing.T) {
	fs := fakeStages(5, 5, 4, 4)
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "data/orders.csv")
	require.NoError(t, err)

	got, err := f.sequencer.Execute(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	run, err := f.store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)

	for i, st := range f.steps(t, id) {
		assert.Equal(t, domain.StepStatusSuccess, st.Status)
		require.NotNil(t, st.RowsAffected)
		assert.Equal(t, fs[i].rows, *st.RowsAffected)
		require.NotNil(t, st.StartedAt)
		require.NotNil(t, st.FinishedAt)
		assert.False(t, st.FinishedAt.Before(*st.StartedAt))
	}

	assert.Equal(t, []string{
		"Pipeline started with file: orders.csv",
		"Step 1 started",
		"Data Pull completed: 5 rows",
		"Step 2 started",
		"Extract completed: 5 rows",
		"Step 3 started",
		"Transform completed: 4 rows",
		"Step 4 started",
		"Migrate completed: 4 rows",
		"Pipeline completed successfully",
	}, f.messages(t, id))
}

func TestSequencer_TransformFailure(t *testing.T) {
	fs := fakeStages(3, 3, 0, 0)
	fs[2].err = errors.New("boom")
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)

	_, err = f.sequencer.Execute(ctx, id, "")
	require.ErrorIs(t, err, ErrStageFailed)

	run, err := f.store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotNil(t, run.FinishedAt)

	steps := f.steps(t, id)
	assert.Equal(t, domain.StepStatusSuccess, steps[0].Status)
	assert.Equal(t, domain.StepStatusSuccess, steps[1].Status)
	assert.Equal(t, domain.StepStatusFailed, steps[2].Status)
	require.NotNil(t, steps[2].ErrorMessage)
	assert.Equal(t, "boom", *steps[2].ErrorMessage)
	assert.Equal(t, domain.StepStatusPending, steps[3].Status)
	assert.Equal(t, 0, fs[3].Calls())

	msgs := f.messages(t, id)
	assert.Contains(t, msgs, "Pipeline failed: boom")
	assert.Contains(t, msgs, "Step 3 failed")
	assert.NotContains(t, msgs, "Pipeline completed successfully")
}

func TestSequencer_PanicBecomesFailure(t *testing.T) {
	fs := fakeStages(1, 1, 1, 1)
	fs[1].panic = "nil map"
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)

	_, err = f.sequencer.Execute(ctx, id, "")
	require.ErrorIs(t, err, ErrStageFailed)

	steps := f.steps(t, id)
	assert.Equal(t, domain.StepStatusFailed, steps[1].Status)
	require.NotNil(t, steps[1].ErrorMessage)
	assert.Contains(t, *steps[1].ErrorMessage, "nil map")
}

func TestSequencer_InterruptedStep(t *testing.T) {
	fs := fakeStages(2, 2, 2, 2)
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)

	// Процесс упал во время Extract.
	steps := f.steps(t, id)
	steps[0].MarkRunning()
	require.NoError(t, f.store.Steps().Update(ctx, &steps[0]))
	steps[0].MarkSucceeded(2)
	require.NoError(t, f.store.Steps().Update(ctx, &steps[0]))
	steps[1].MarkRunning()
	require.NoError(t, f.store.Steps().Update(ctx, &steps[1]))

	_, err = f.sequencer.Execute(ctx, id, "")
	require.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, ErrStepInterrupted)

	steps = f.steps(t, id)
	assert.Equal(t, domain.StepStatusSuccess, steps[0].Status)
	assert.Equal(t, domain.StepStatusFailed, steps[1].Status)
	require.NotNil(t, steps[1].ErrorMessage)
	assert.Equal(t, "step interrupted before completion", *steps[1].ErrorMessage)
	assert.Equal(t, domain.StepStatusPending, steps[2].Status)

	for _, s := range fs {
		assert.Equal(t, 0, s.Calls(), "no stage re-executed")
	}

	run, err := f.store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

func TestSequencer_ResumesAfterCompletedSteps(t *testing.T) {
	fs := fakeStages(7, 7, 6, 6)
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)

	steps := f.steps(t, id)
	steps[0].MarkRunning()
	require.NoError(t, f.store.Steps().Update(ctx, &steps[0]))
	steps[0].MarkSucceeded(7)
	require.NoError(t, f.store.Steps().Update(ctx, &steps[0]))

	_, err = f.sequencer.Execute(ctx, id, "")
	require.NoError(t, err)

	assert.Equal(t, 0, fs[0].Calls())
	for _, s := range fs[1:] {
		assert.Equal(t, 1, s.Calls())
	}

	run, err := f.store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
}

func TestSequencer_SecondExecutorCannotReviveRun(t *testing.T) {
	fs := fakeStages(2, 2, 2, 2)
	fs[0].started = make(chan struct{})
	fs[0].release = make(chan struct{})
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.sequencer.Execute(ctx, id, "")
		firstErr <- err
	}()
	<-fs[0].started

	// Второй исполнитель видит шаг 1 в Running и локализует его как прерванный.
	other := fakeStages(2, 2, 2, 2)
	second := NewSequencer(SequencerConfig{
		Runs:   f.store.Runs(),
		Steps:  f.store.Steps(),
		Stages: asStages(other),
		Sink:   runlog.New(runlog.Config{Store: f.store.Logs()}),
	})
	_, err = second.Execute(ctx, id, "")
	require.ErrorIs(t, err, ErrStepInterrupted)

	close(fs[0].release)
	err = <-firstErr
	require.ErrorIs(t, err, ErrRunConflict)

	run, err := f.store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status, "terminal status is not overwritten")

	steps := f.steps(t, id)
	assert.Equal(t, domain.StepStatusFailed, steps[0].Status)
	for _, st := range steps[1:] {
		assert.Equal(t, domain.StepStatusPending, st.Status)
	}
	assert.Equal(t, 0, fs[1].Calls())
	for _, s := range other {
		assert.Equal(t, 0, s.Calls())
	}
	assert.NotContains(t, f.messages(t, id), "Pipeline completed successfully")
}

func TestSequencer_PersistsProgress(t *testing.T) {
	fs := fakeStages(4, 4, 4, 4)
	fs[0].progress = [][2]int{{0, 4}, {4, 4}}
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)
	_, err = f.sequencer.Execute(ctx, id, "")
	require.NoError(t, err)

	steps := f.steps(t, id)
	require.NotNil(t, steps[0].RowsProcessed)
	require.NotNil(t, steps[0].RowsTotal)
	assert.Equal(t, 4, *steps[0].RowsProcessed)
	assert.Equal(t, 4, *steps[0].RowsTotal)
	assert.Nil(t, steps[1].RowsProcessed, "stage without progress reports leaves it empty")
}

func TestSequencer_FinishedRun(t *testing.T) {
	fs := fakeStages(1, 1, 1, 1)
	f := newFixture(asStages(fs))
	ctx := context.Background()

	id, err := f.registry.CreateRun(ctx, "Orders", "orders.csv")
	require.NoError(t, err)
	_, err = f.sequencer.Execute(ctx, id, "")
	require.NoError(t, err)

	_, err = f.sequencer.Execute(ctx, id, "")
	assert.ErrorIs(t, err, ErrRunFinished)
	assert.Equal(t, 1, fs[0].Calls())
}

func TestSequencer_UnknownRun(t *testing.T) {
	f := newFixture(asStages(fakeStages(1, 1, 1, 1)))
	_, err := f.sequencer.Execute(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSequencer_IgnoresCancellation(t *testing.T) {
	f := newFixture(asStages(fakeStages(1, 1, 1, 1)))
	id, err := f.registry.CreateRun(context.Background(), "Orders", "orders.csv")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.sequencer.Execute(ctx, id, "")
	require.NoError(t, err)
}

type recordingNotifier struct {
	ids []uuid.UUID
	err error
}

func (n *recordingNotifier) PublishRunPending(_ context.Context, runID uuid.UUID) error {
	n.ids = append(n.ids, runID)
	return n.err
}

func TestOrchestrator_Trigger(t *testing.T) {
	f := newFixture(asStages(fakeStages(1, 1, 1, 1)))
	notifier := &recordingNotifier{err: errors.New("broker down")}
	o := New(Config{
		Registry:      f.registry,
		Sequencer:     f.sequencer,
		Notifier:      notifier,
		DefaultSource: "default.csv",
	})

	run, err := o.Trigger(context.Background(), "")
	require.NoError(t, err, "publish failure does not fail trigger")
	assert.Equal(t, domain.DefaultPipelineName, run.PipelineName)
	assert.Equal(t, "default.csv", run.SourceRef)
	assert.Equal(t, []uuid.UUID{run.ID}, notifier.ids)

	unclaimed, err := f.store.Runs().ListUnclaimed(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, unclaimed, 1)
}

func TestOrchestrator_ResumeClaimsUnclaimedRun(t *testing.T) {
	fs := fakeStages(1, 1, 1, 1)
	f := newFixture(asStages(fs))
	o := New(Config{Registry: f.registry, Sequencer: f.sequencer})
	ctx := context.Background()

	run, err := o.Trigger(ctx, "orders.csv")
	require.NoError(t, err)

	_, err = o.Resume(ctx, run.ID)
	require.NoError(t, err)

	stored, err := f.store.Runs().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, stored.Status)
	assert.Equal(t, LocalWorkerID, stored.WorkerID)

	_, err = o.Resume(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestOrchestrator_ResumeRefusesWorkerRun(t *testing.T) {
	fs := fakeStages(1, 1, 1, 1)
	f := newFixture(asStages(fs))
	o := New(Config{Registry: f.registry, Sequencer: f.sequencer})
	ctx := context.Background()

	run, err := o.Trigger(ctx, "orders.csv")
	require.NoError(t, err)
	require.NoError(t, f.store.Runs().Claim(ctx, run.ID, "worker-1"))

	_, err = o.Resume(ctx, run.ID)
	require.ErrorIs(t, err, ErrRunClaimed)
	for _, s := range fs {
		assert.Equal(t, 0, s.Calls())
	}

	_, err = o.Resume(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestOrchestrator_ResumeLocalRun(t *testing.T) {
	fs := fakeStages(1, 1, 1, 1)
	f := newFixture(asStages(fs))
	o := New(Config{Registry: f.registry, Sequencer: f.sequencer})
	ctx := context.Background()

	run, err := f.registry.Create(ctx, RunRequest{PipelineName: "Orders", SourceRef: "orders.csv", WorkerID: LocalWorkerID})
	require.NoError(t, err)

	_, err = o.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fs[3].Calls())
}

func TestOrchestrator_SourceRequired(t *testing.T) {
	f := newFixture(nil)
	o := New(Config{Registry: f.registry, Sequencer: f.sequencer})

	_, err := o.Trigger(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidRun)
}

func TestOrchestrator_RunNowEndToEnd(t *testing.T) {
	dir := t.TempDir()
	csv := "OrderId,CustomerId,Amount,OrderDate\n" +
		"O1,C1,10,2024-01-01\n" +
		",C2,20,2024-01-02\n" +
		"O3,,300,2024-01-03\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(csv), 0o644))

	store := memory.New()
	stageList := stages.Pipeline(stages.Config{
		Orders: store.Orders(),
		Loader: source.NewLoader(source.Config{BaseDir: dir}),
	})
	sequencer := NewSequencer(SequencerConfig{
		Runs:   store.Runs(),
		Steps:  store.Steps(),
		Stages: stageList,
		Sink:   runlog.New(runlog.Config{Store: store.Logs()}),
	})
	o := New(Config{
		Registry:  NewRegistry(store.Runs(), nil),
		Sequencer: sequencer,
	})
	ctx := context.Background()

	id, err := o.RunNow(ctx, "orders.csv")
	require.NoError(t, err)
	assert.Equal(t, 0, o.ActiveCount())

	run, err := store.Runs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, LocalWorkerID, run.WorkerID)

	steps, err := store.Steps().ListByRunID(ctx, id)
	require.NoError(t, err)
	var rows []int
	for _, st := range steps {
		require.NotNil(t, st.RowsAffected)
		rows = append(rows, *st.RowsAffected)
	}
	assert.Equal(t, []int{3, 3, 2, 2}, rows)
	assert.Equal(t, 2, store.Orders().TargetCount())

	events, err := store.Logs().ListByRunID(ctx, id)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, "Pipeline completed successfully", last.Message)
	require.NotNil(t, last.Details)
	assert.Equal(t, "Total rows migrated: 2", *last.Details)
}

func TestOrchestrator_RunNowMissingSource(t *testing.T) {
	store := memory.New()
	stageList := stages.Pipeline(stages.Config{
		Orders: store.Orders(),
		Loader: source.NewLoader(source.Config{BaseDir: t.TempDir()}),
	})
	o := New(Config{
		Registry: NewRegistry(store.Runs(), nil),
		Sequencer: NewSequencer(SequencerConfig{
			Runs:   store.Runs(),
			Steps:  store.Steps(),
			Stages: stageList,
			Sink:   runlog.New(runlog.Config{Store: store.Logs()}),
		}),
	})

	id, err := o.RunNow(context.Background(), "missing.csv")
	require.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, source.ErrSourceRead)
	assert.NotEqual(t, uuid.Nil, id)

	steps, err := store.Steps().ListByRunID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusFailed, steps[0].Status)
	for _, st := range steps[1:] {
		assert.Equal(t, domain.StepStatusPending, st.Status)
	}
}

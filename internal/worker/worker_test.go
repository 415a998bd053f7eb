package worker

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/mq"
	"github.com/shaiso/orderpipe/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor запоминает выполненные runs.
type recordingExecutor struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	refs  map[uuid.UUID]string

	// block — если задан, Execute ждёт его закрытия.
	block   chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		calls: make(map[uuid.UUID]int),
		refs:  make(map[uuid.UUID]string),
	}
}

func (e *recordingExecutor) Execute(_ context.Context, runID uuid.UUID, sourceRef string) (uuid.UUID, error) {
	n := e.running.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.block != nil {
		<-e.block
	}
	e.running.Add(-1)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[runID]++
	e.refs[runID] = sourceRef
	return runID, nil
}

func (e *recordingExecutor) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func (e *recordingExecutor) count(id uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

func createRuns(t *testing.T, store *memory.Store, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		run := domain.NewRun("Orders", "orders.csv", time.Now())
		require.NoError(t, store.Runs().CreateWithSteps(context.Background(), run, domain.NewSteps(run.ID, time.Now())))
		ids[i] = run.ID
	}
	return ids
}

func newWorker(store *memory.Store, exec Executor, id string, concurrency int) *Worker {
	return New(Config{
		Runs:         store.Runs(),
		Executor:     exec,
		WorkerID:     id,
		PollInterval: 10 * time.Millisecond,
		Concurrency:  concurrency,
	})
}

func TestNew_Defaults(t *testing.T) {
	w := New(Config{})
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.Equal(t, defaultConcurrency, w.concurrency)
	assert.NotEmpty(t, w.ID())
}

func TestWorker_PollClaimsAndExecutes(t *testing.T) {
	store := memory.New()
	ids := createRuns(t, store, 3)
	exec := newRecordingExecutor()
	w := newWorker(store, exec, "w1", 2)

	w.poll(context.Background())
	w.executions.Wait()

	for _, id := range ids {
		assert.Equal(t, 1, exec.count(id))
		assert.Equal(t, "orders.csv", exec.refs[id])

		run, err := store.Runs().GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "w1", run.WorkerID)
		assert.NotNil(t, run.ClaimedAt)
	}

	// Повторный poll ничего не находит.
	w.poll(context.Background())
	w.executions.Wait()
	assert.Equal(t, 3, exec.total())
}

func TestWorker_ConcurrentWorkersExecuteOnce(t *testing.T) {
	store := memory.New()
	ids := createRuns(t, store, 20)
	exec := newRecordingExecutor()

	workers := []*Worker{
		newWorker(store, exec, "w1", 3),
		newWorker(store, exec, "w2", 3),
		newWorker(store, exec, "w3", 3),
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.poll(context.Background())
		}(w)
	}
	wg.Wait()
	for _, w := range workers {
		w.executions.Wait()
	}

	for _, id := range ids {
		assert.Equal(t, 1, exec.count(id), "run %s", id)
	}
}

func TestWorker_ConcurrencyBound(t *testing.T) {
	store := memory.New()
	createRuns(t, store, 5)
	exec := newRecordingExecutor()
	exec.block = make(chan struct{})
	w := newWorker(store, exec, "w1", 2)

	done := make(chan struct{})
	go func() {
		w.poll(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return exec.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("poll must block while all slots are busy")
	case <-time.After(20 * time.Millisecond):
	}

	close(exec.block)
	<-done
	w.executions.Wait()

	assert.Equal(t, 5, exec.total())
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
}

func TestWorker_RecoverClaimed(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ids := createRuns(t, store, 3)
	require.NoError(t, store.Runs().Claim(ctx, ids[0], "w1"))
	require.NoError(t, store.Runs().Claim(ctx, ids[1], "other"))

	exec := newRecordingExecutor()
	w := newWorker(store, exec, "w1", 2)

	w.recoverClaimed(ctx)
	w.executions.Wait()

	assert.Equal(t, 1, exec.count(ids[0]))
	assert.Equal(t, 0, exec.count(ids[1]))
	assert.Equal(t, 0, exec.count(ids[2]), "unclaimed runs are left to polling")
}

func TestWorker_RecoverAfterRestartWithDefaultID(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ids := createRuns(t, store, 1)

	before := New(Config{Runs: store.Runs(), Executor: newRecordingExecutor()})
	require.NoError(t, store.Runs().Claim(ctx, ids[0], before.ID()))

	// Процесс перезапущен: новый Worker с тем же конфигом.
	exec := newRecordingExecutor()
	after := New(Config{Runs: store.Runs(), Executor: exec})
	assert.Equal(t, before.ID(), after.ID())

	after.recoverClaimed(ctx)
	after.executions.Wait()
	assert.Equal(t, 1, exec.count(ids[0]))
}

func TestDefaultWorkerID_Stable(t *testing.T) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	assert.Equal(t, host, DefaultWorkerID())
}

func TestWorker_HandleRunPending(t *testing.T) {
	store := memory.New()
	ids := createRuns(t, store, 1)
	exec := newRecordingExecutor()
	w := newWorker(store, exec, "w1", 1)
	ctx := context.Background()

	delivery := &mq.Delivery{
		Message: *mq.NewMessage(mq.MessageTypeRunPending, mq.RunPendingPayload{RunID: ids[0]}),
	}

	require.NoError(t, w.handleRunPending(ctx, delivery))
	w.executions.Wait()

	// Повторная доставка не приводит к повторному выполнению.
	require.NoError(t, w.handleRunPending(ctx, delivery))
	w.executions.Wait()

	assert.Equal(t, 1, exec.count(ids[0]))
	assert.Equal(t, "", exec.refs[ids[0]], "source comes from the stored run")
}

func TestWorker_HandleRunPending_InvalidPayload(t *testing.T) {
	w := newWorker(memory.New(), newRecordingExecutor(), "w1", 1)

	bad := &mq.Delivery{Message: mq.Message{Payload: map[string]any{"run_id": "nope"}}}
	err := w.handleRunPending(context.Background(), bad)
	assert.ErrorIs(t, err, mq.ErrPermanent)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	empty := &mq.Delivery{Message: mq.Message{Payload: map[string]any{}}}
	err = w.handleRunPending(context.Background(), empty)
	assert.ErrorIs(t, err, mq.ErrPermanent)
}

func TestWorker_StartStop(t *testing.T) {
	store := memory.New()
	ids := createRuns(t, store, 2)
	exec := newRecordingExecutor()
	w := newWorker(store, exec, "w1", 2)

	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool { return exec.total() == 2 }, time.Second, 5*time.Millisecond)

	// Run, созданный после старта, подхватывается следующим poll.
	late := createRuns(t, store, 1)
	assert.Eventually(t, func() bool { return exec.count(late[0]) == 1 }, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.True(t, w.IsStopped())
	assert.Equal(t, 1, exec.count(ids[0]))

	err := w.dispatch(context.Background(), uuid.New(), "", sourceQueue)
	assert.ErrorIs(t, err, ErrWorkerStopped)
}

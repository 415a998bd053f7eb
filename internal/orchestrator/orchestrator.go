package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo"
)

// LocalWorkerID — исполнитель runs, запущенных в текущем процессе.
const LocalWorkerID = "local"

// Notifier уведомляет workers о новом run.
type Notifier interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Orchestrator — точка входа для запуска pipeline.
//
// Trigger создаёт run и отдаёт его workers, RunNow создаёт run
// и выполняет его в текущем процессе до финального статуса.
type Orchestrator struct {
	registry      *Registry
	sequencer     *Sequencer
	notifier      Notifier
	pipelineName  string
	defaultSource string

	// active — runs, выполняемые этим процессом.
	active map[uuid.UUID]struct{}
	mu     sync.Mutex

	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	Registry  *Registry
	Sequencer *Sequencer

	// Notifier — опционально. Без него workers находят run через polling.
	Notifier Notifier

	PipelineName  string // default: SamplePipeline
	DefaultSource string // источник, если в запросе не указан

	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.PipelineName
	if name == "" {
		name = domain.DefaultPipelineName
	}

	return &Orchestrator{
		registry:      cfg.Registry,
		sequencer:     cfg.Sequencer,
		notifier:      cfg.Notifier,
		pipelineName:  name,
		defaultSource: cfg.DefaultSource,
		active:        make(map[uuid.UUID]struct{}),
		logger:        logger.With("component", "orchestrator"),
	}
}

// PipelineName возвращает имя pipeline.
func (o *Orchestrator) PipelineName() string {
	return o.pipelineName
}

// Trigger создаёт run и уведомляет workers.
//
// Ошибка публикации не отменяет run: он останется в БД
// и будет подобран polling'ом.
func (o *Orchestrator) Trigger(ctx context.Context, sourceRef string) (*domain.Run, error) {
	ref, err := o.sourceRef(sourceRef)
	if err != nil {
		return nil, err
	}

	run, err := o.registry.Create(ctx, RunRequest{PipelineName: o.pipelineName, SourceRef: ref})
	if err != nil {
		return nil, err
	}

	if o.notifier != nil {
		if err := o.notifier.PublishRunPending(ctx, run.ID); err != nil {
			o.logger.Warn("failed to publish run pending, relying on polling",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
	return run, nil
}

// RunNow создаёт run и выполняет его синхронно.
//
// Run создаётся уже закреплённым за LocalWorkerID, поэтому workers
// его не забирают. Возвращает ID run даже при ошибке стадии.
func (o *Orchestrator) RunNow(ctx context.Context, sourceRef string) (uuid.UUID, error) {
	ref, err := o.sourceRef(sourceRef)
	if err != nil {
		return uuid.Nil, err
	}

	run, err := o.registry.Create(ctx, RunRequest{
		PipelineName: o.pipelineName,
		SourceRef:    ref,
		WorkerID:     LocalWorkerID,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return o.Execute(ctx, run.ID, ref)
}

// Execute выполняет существующий run, если он ещё не выполняется этим процессом.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID, sourceRef string) (uuid.UUID, error) {
	if !o.acquire(runID) {
		return runID, fmt.Errorf("%w: %s is already executing", ErrRunActive, runID)
	}
	defer o.release(runID)

	return o.sequencer.Execute(ctx, runID, sourceRef)
}

// Resume продолжает незавершённый run в текущем процессе.
//
// Незабранный run сначала закрепляется за LocalWorkerID, чтобы workers
// его не взяли. Run, закреплённый за worker'ом, не выполняется: ErrRunClaimed.
func (o *Orchestrator) Resume(ctx context.Context, runID uuid.UUID) (uuid.UUID, error) {
	run, err := o.registry.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return runID, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return runID, fmt.Errorf("%w: get run: %w", ErrStorage, err)
	}
	if run.IsFinished() {
		return runID, fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
	}
	if err := o.claimLocal(ctx, run); err != nil {
		return runID, err
	}
	return o.Execute(ctx, runID, "")
}

func (o *Orchestrator) claimLocal(ctx context.Context, run *domain.Run) error {
	if run.WorkerID == LocalWorkerID {
		return nil
	}
	if run.IsClaimed() {
		return fmt.Errorf("%w: %s is held by %q", ErrRunClaimed, run.ID, run.WorkerID)
	}

	err := o.registry.runs.Claim(ctx, run.ID, LocalWorkerID)
	if errors.Is(err, repo.ErrAlreadyClaimed) {
		return fmt.Errorf("%w: %s was claimed concurrently", ErrRunClaimed, run.ID)
	}
	if err != nil {
		return fmt.Errorf("%w: claim run: %w", ErrStorage, err)
	}
	o.logger.Info("run claimed for local resume", "run_id", run.ID)
	return nil
}

// ActiveCount возвращает количество runs, выполняемых этим процессом.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) acquire(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[runID]; ok {
		return false
	}
	o.active[runID] = struct{}{}
	return true
}

func (o *Orchestrator) release(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, runID)
}

func (o *Orchestrator) sourceRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = o.defaultSource
	}
	if ref == "" {
		return "", fmt.Errorf("%w: source is required", ErrInvalidRun)
	}
	return ref, nil
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/runlog"
	"github.com/shaiso/orderpipe/internal/source"
	"github.com/shaiso/orderpipe/internal/stages"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

// SequencerConfig — конфигурация Sequencer.
type SequencerConfig struct {
	Runs   RunStore
	Steps  StepStore
	Stages []stages.Stage
	Sink   *runlog.Sink
	Logger *slog.Logger
}

// Sequencer выполняет четыре шага run строго по порядку.
//
// Всё состояние читается из store, поэтому выполнение можно начать
// в любом процессе. Каждый переход статуса шага сохраняется сразу.
// Шаги, уже завершённые успешно, пропускаются; шаг, найденный в Running,
// считается прерванным и локализуется как упавший.
type Sequencer struct {
	runs   RunStore
	steps  StepStore
	stages map[int]stages.Stage
	sink   *runlog.Sink
	logger *slog.Logger
}

// NewSequencer создаёт Sequencer.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = runlog.New(runlog.Config{Logger: logger})
	}

	byNumber := make(map[int]stages.Stage, len(cfg.Stages))
	for _, st := range cfg.Stages {
		byNumber[st.Number()] = st
	}

	return &Sequencer{
		runs:   cfg.Runs,
		steps:  cfg.Steps,
		stages: byNumber,
		sink:   sink,
		logger: logger.With("component", "sequencer"),
	}
}

// Execute выполняет run.
//
// sourceRef — ссылка на источник для Data Pull; пустая строка означает
// ссылку, сохранённую в run. Выполнение не прерывается отменой ctx.
//
// Возвращает:
//   - ErrRunNotFound — run не существует
//   - ErrRunFinished — run уже в финальном статусе, ничего не изменено
//   - ErrStageFailed — стадия упала, run помечен Failed
//   - ErrRunConflict — run параллельно изменил другой исполнитель
//   - ErrStorage — не удалось прочитать или сохранить состояние
func (s *Sequencer) Execute(ctx context.Context, runID uuid.UUID, sourceRef string) (uuid.UUID, error) {
	ctx = context.WithoutCancel(ctx)

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return runID, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return runID, fmt.Errorf("%w: get run: %w", ErrStorage, err)
	}
	if run.IsFinished() {
		return runID, fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
	}
	if sourceRef == "" {
		sourceRef = run.SourceRef
	}

	steps, err := s.loadSteps(ctx, runID)
	if err != nil {
		return runID, err
	}

	telemetry.ActiveExecutions.Inc()
	defer telemetry.ActiveExecutions.Dec()

	logger := telemetry.WithPipeline(telemetry.WithRunID(s.logger, runID.String()), run.PipelineName)
	ex := &execution{
		seq:    s,
		run:    run,
		steps:  steps,
		source: sourceRef,
		logger: logger,
	}
	return runID, ex.execute(ctx)
}

// loadSteps читает шаги run и проверяет, что их ровно четыре с номерами 1..4.
func (s *Sequencer) loadSteps(ctx context.Context, runID uuid.UUID) ([]domain.Step, error) {
	steps, err := s.steps.ListByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: list steps: %w", ErrStorage, err)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })

	if len(steps) != domain.StepCount {
		return nil, fmt.Errorf("%w: run %s has %d steps", ErrInvalidRun, runID, len(steps))
	}
	for i, st := range steps {
		if st.Number != i+1 {
			return nil, fmt.Errorf("%w: run %s has unexpected step number %d", ErrInvalidRun, runID, st.Number)
		}
	}
	return steps, nil
}

// execution — состояние одного вызова Execute.
type execution struct {
	seq    *Sequencer
	run    *domain.Run
	steps  []domain.Step
	source string
	logger *slog.Logger
}

// execute выполняет незавершённые шаги по порядку.
func (e *execution) execute(ctx context.Context) error {
	// Шаг в Running — процесс упал посреди шага. Повтор не выполняется.
	for i := range e.steps {
		if e.steps[i].Status == domain.StepStatusRunning {
			return e.fail(ctx, ErrStepInterrupted.Error(), ErrStepInterrupted)
		}
		if e.steps[i].Status == domain.StepStatusFailed {
			return e.finishFailed(ctx, fmt.Errorf("%w: step %d already failed", ErrStageFailed, e.steps[i].Number))
		}
	}

	if e.steps[0].Status == domain.StepStatusPending {
		e.info(ctx, nil, fmt.Sprintf("Pipeline started with file: %s", source.DisplayName(e.source)), "")
	} else {
		e.info(ctx, nil, "Pipeline resumed", fmt.Sprintf("Source: %s", e.source))
	}

	var migrated int
	for i := range e.steps {
		step := &e.steps[i]
		if step.Status == domain.StepStatusSuccess {
			if step.RowsAffected != nil {
				migrated = *step.RowsAffected
			}
			continue
		}

		rows, err := e.runStep(ctx, step)
		if err != nil {
			return err
		}
		migrated = rows
	}

	e.run.MarkSucceeded()
	if err := e.seq.runs.Update(ctx, e.run); err != nil {
		if errors.Is(err, repo.ErrStaleState) {
			return e.conflict("mark run succeeded", err)
		}
		return fmt.Errorf("%w: mark run succeeded: %w", ErrStorage, err)
	}
	telemetry.RunsFinished.WithLabelValues(e.run.PipelineName, string(e.run.Status)).Inc()

	e.info(ctx, nil, "Pipeline completed successfully", fmt.Sprintf("Total rows migrated: %d", migrated))
	e.logger.Info("run succeeded",
		"run_number", e.run.Number,
		"duration", e.run.Duration(),
		"rows_migrated", migrated,
	)
	return nil
}

// runStep выполняет один шаг и сохраняет его переходы.
func (e *execution) runStep(ctx context.Context, step *domain.Step) (int, error) {
	stage, ok := e.seq.stages[step.Number]
	if !ok {
		err := fmt.Errorf("%w: no handler for step %d", ErrInvalidRun, step.Number)
		return 0, e.fail(ctx, err.Error(), err)
	}

	step.MarkRunning()
	if err := e.seq.steps.Update(ctx, step); err != nil {
		if errors.Is(err, repo.ErrStaleState) {
			return 0, e.conflict("mark step running", err)
		}
		return 0, e.fail(ctx, err.Error(), fmt.Errorf("%w: mark step running: %w", ErrStorage, err))
	}
	e.info(ctx, step, fmt.Sprintf("Step %d started", step.Number), "")

	start := time.Now()
	stepLogger := telemetry.WithStep(e.logger, step.Number, step.Name)
	stepCtx := telemetry.WithLogger(ctx, stepLogger)
	rows, err := invoke(stepCtx, stage, stages.Input{
		RunID:     e.run.ID,
		SourceRef: e.source,
		Progress:  e.progress(ctx, step, stepLogger),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		telemetry.StepDuration.WithLabelValues(step.Name, string(domain.StepStatusFailed)).Observe(elapsed)
		return 0, e.fail(ctx, err.Error(), fmt.Errorf("%w: %s: %w", ErrStageFailed, step.Name, err))
	}
	telemetry.StepDuration.WithLabelValues(step.Name, string(domain.StepStatusSuccess)).Observe(elapsed)
	telemetry.StageRows.WithLabelValues(step.Name).Add(float64(rows))

	step.MarkSucceeded(rows)
	if err := e.seq.steps.Update(ctx, step); err != nil {
		if errors.Is(err, repo.ErrStaleState) {
			return 0, e.conflict("mark step succeeded", err)
		}
		return 0, e.fail(ctx, err.Error(), fmt.Errorf("%w: mark step succeeded: %w", ErrStorage, err))
	}

	e.info(ctx, step,
		fmt.Sprintf("%s completed: %d rows", step.Name, rows),
		fmt.Sprintf("RowsAffected: %d", rows),
	)
	return rows, nil
}

// progress сохраняет прогресс шага. Ошибка записи только логируется.
func (e *execution) progress(ctx context.Context, step *domain.Step, logger *slog.Logger) stages.ProgressFunc {
	return func(processed, total int) {
		step.SetProgress(processed, total)
		if err := e.seq.steps.UpdateProgress(ctx, step.ID, processed, total); err != nil {
			logger.Debug("failed to save step progress", "processed", processed, "total", total, "error", err)
		}
	}
}

// conflict прекращает выполнение: run или шаг уже изменил другой исполнитель.
func (e *execution) conflict(action string, err error) error {
	e.logger.Warn("run state changed by another executor, stopping",
		"run_number", e.run.Number,
		"action", action,
		"error", err,
	)
	return fmt.Errorf("%w: %s: %w", ErrRunConflict, action, err)
}

// invoke вызывает стадию, превращая panic в ошибку.
func invoke(ctx context.Context, stage stages.Stage, in stages.Input) (rows int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return stage.Run(ctx, in)
}

// fail локализует упавший шаг и переводит run в Failed.
//
// Упавшим считается шаг, который в store находится в Running.
// Если такого шага нет (ошибка случилась до перевода в Running),
// шаги не меняются. msg сохраняется в error_message шага.
func (e *execution) fail(ctx context.Context, msg string, cause error) error {
	e.seq.sink.Error(ctx, runlog.Entry{
		RunID:        e.run.ID,
		PipelineName: e.run.PipelineName,
		Message:      fmt.Sprintf("Pipeline failed: %s", msg),
	})

	steps, err := e.seq.steps.ListByRunID(ctx, e.run.ID)
	if err != nil {
		e.logger.Error("failed to re-read steps", "error", err)
		steps = e.steps
	}

	for i := range steps {
		step := &steps[i]
		if step.Status != domain.StepStatusRunning {
			continue
		}

		step.MarkFailed(msg)
		if err := e.seq.steps.Update(ctx, step); err != nil {
			if errors.Is(err, repo.ErrStaleState) {
				return errors.Join(cause, e.conflict("mark step failed", err))
			}
			e.logger.Error("failed to mark step failed", "step_number", step.Number, "error", err)
		}
		e.seq.sink.Error(ctx, runlog.Entry{
			RunID:        e.run.ID,
			PipelineName: e.run.PipelineName,
			StepNumber:   step.Number,
			StepName:     step.Name,
			Message:      fmt.Sprintf("Step %d failed", step.Number),
			Details:      msg,
		})
		e.logger.Warn("step failed",
			"step_number", step.Number,
			"step_name", step.Name,
			"error", msg,
		)
		break
	}

	if !errors.Is(cause, ErrStageFailed) {
		cause = fmt.Errorf("%w: %w", ErrStageFailed, cause)
	}
	return e.finishFailed(ctx, cause)
}

// finishFailed переводит run в Failed и возвращает cause.
func (e *execution) finishFailed(ctx context.Context, cause error) error {
	e.run.MarkFailed()
	if err := e.seq.runs.Update(ctx, e.run); err != nil {
		if errors.Is(err, repo.ErrStaleState) {
			return errors.Join(cause, e.conflict("mark run failed", err))
		}
		e.logger.Error("failed to mark run failed", "error", err)
		return errors.Join(cause, fmt.Errorf("%w: mark run failed: %w", ErrStorage, err))
	}
	telemetry.RunsFinished.WithLabelValues(e.run.PipelineName, string(e.run.Status)).Inc()

	e.logger.Warn("run failed",
		"run_number", e.run.Number,
		"duration", e.run.Duration(),
		"error", cause,
	)
	return cause
}

func (e *execution) info(ctx context.Context, step *domain.Step, msg, details string) {
	entry := runlog.Entry{
		RunID:        e.run.ID,
		PipelineName: e.run.PipelineName,
		Message:      msg,
		Details:      details,
	}
	if step != nil {
		entry.StepNumber = step.Number
		entry.StepName = step.Name
	}
	e.seq.sink.Info(ctx, entry)
}

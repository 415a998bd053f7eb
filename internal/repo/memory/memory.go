// Package memory — хранилище в памяти с тем же контрактом, что у internal/repo.
//
// Используется в тестах и в CLI-режиме без БД. Номера runs выделяются
// под общим мьютексом, поэтому они строго возрастают без пропусков.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo"
)

// Store — общее состояние всех репозиториев.
type Store struct {
	mu sync.RWMutex

	runs      map[uuid.UUID]*domain.Run
	runOrder  []uuid.UUID
	steps     map[uuid.UUID][]*domain.Step
	logs      []domain.LogEvent
	nextLogID int64

	landing     map[uuid.UUID][]domain.LandingOrder
	staging     map[uuid.UUID][]domain.StagingOrder
	transformed map[uuid.UUID][]domain.TransformedOrder
	targets     map[string]domain.TargetOrder
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		runs:        make(map[uuid.UUID]*domain.Run),
		steps:       make(map[uuid.UUID][]*domain.Step),
		landing:     make(map[uuid.UUID][]domain.LandingOrder),
		staging:     make(map[uuid.UUID][]domain.StagingOrder),
		transformed: make(map[uuid.UUID][]domain.TransformedOrder),
		targets:     make(map[string]domain.TargetOrder),
	}
}

// Runs возвращает репозиторий runs.
func (s *Store) Runs() *Runs { return &Runs{s: s} }

// Steps возвращает репозиторий шагов.
func (s *Store) Steps() *Steps { return &Steps{s: s} }

// Logs возвращает репозиторий журнала.
func (s *Store) Logs() *Logs { return &Logs{s: s} }

// Orders возвращает репозиторий строк заказов.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// --- Runs ---

// Runs — runs в памяти.
type Runs struct{ s *Store }

// CreateWithSteps создаёт run и шаги атомарно и назначает run.Number.
func (r *Runs) CreateWithSteps(_ context.Context, run *domain.Run, steps []domain.Step) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.runs[run.ID]; ok {
		return repo.ErrAlreadyExists
	}

	last := 0
	for _, existing := range r.s.runs {
		if existing.PipelineName == run.PipelineName && existing.Number > last {
			last = existing.Number
		}
	}
	run.Number = last + 1

	stored := *run
	r.s.runs[run.ID] = &stored
	r.s.runOrder = append(r.s.runOrder, run.ID)

	copies := make([]*domain.Step, len(steps))
	for i := range steps {
		st := steps[i]
		st.RunID = run.ID
		copies[i] = &st
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].Number < copies[j].Number })
	r.s.steps[run.ID] = copies
	return nil
}

// GetByID возвращает копию run.
func (r *Runs) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	run, ok := r.s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *run
	return &out, nil
}

// List возвращает runs новыми первыми.
func (r *Runs) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	limit := filter.EffectiveLimit()
	var out []domain.Run
	for i := len(r.s.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		run := r.s.runs[r.s.runOrder[i]]
		if filter.PipelineName != "" && run.PipelineName != filter.PipelineName {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

// Update переводит run из Running в новый статус.
func (r *Runs) Update(_ context.Context, run *domain.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.runs[run.ID]
	if !ok || stored.Status != domain.RunStatusRunning {
		return fmt.Errorf("update run %s: %w", run.ID, repo.ErrStaleState)
	}
	stored.Status = run.Status
	stored.StartedAt = run.StartedAt
	stored.FinishedAt = run.FinishedAt
	return nil
}

// ListUnclaimed возвращает незабранные runs в статусе Running, старые первыми.
func (r *Runs) ListUnclaimed(_ context.Context, limit int) ([]domain.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Run
	for _, id := range r.s.runOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		run := r.s.runs[id]
		if run.Status == domain.RunStatusRunning && run.ClaimedAt == nil {
			out = append(out, *run)
		}
	}
	return out, nil
}

// ListClaimedBy возвращает незавершённые runs, закреплённые за worker'ом.
func (r *Runs) ListClaimedBy(_ context.Context, workerID string, limit int) ([]domain.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Run
	for _, id := range r.s.runOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		run := r.s.runs[id]
		if run.Status == domain.RunStatusRunning && run.WorkerID == workerID {
			out = append(out, *run)
		}
	}
	return out, nil
}

// Claim закрепляет run за worker'ом.
func (r *Runs) Claim(_ context.Context, id uuid.UUID, workerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	run, ok := r.s.runs[id]
	if !ok || run.ClaimedAt != nil || run.Status != domain.RunStatusRunning {
		return repo.ErrAlreadyClaimed
	}
	now := time.Now()
	run.ClaimedAt = &now
	run.WorkerID = workerID
	return nil
}

// --- Steps ---

// Steps — шаги в памяти.
type Steps struct{ s *Store }

// ListByRunID возвращает копии шагов run по номеру.
func (r *Steps) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.Step, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	steps := r.s.steps[runID]
	out := make([]domain.Step, len(steps))
	for i, st := range steps {
		out[i] = *st
	}
	return out, nil
}

// Update сохраняет переход шага; применяется только из предыдущего статуса.
func (r *Steps) Update(_ context.Context, step *domain.Step) error {
	from, ok := domain.PriorStepStatus(step.Status)
	if !ok {
		return fmt.Errorf("update step to %s: %w", step.Status, repo.ErrStaleState)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st := r.s.findStep(step.RunID, step.ID)
	if st == nil {
		return repo.ErrNotFound
	}
	if st.Status != from {
		return fmt.Errorf("update step %d %s -> %s: %w", step.Number, st.Status, step.Status, repo.ErrStaleState)
	}
	processed, total := st.RowsProcessed, st.RowsTotal
	*st = *step
	st.RowsProcessed, st.RowsTotal = processed, total
	return nil
}

// UpdateProgress сохраняет прогресс шага, пока он в Running.
func (r *Steps) UpdateProgress(_ context.Context, stepID uuid.UUID, processed, total int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, steps := range r.s.steps {
		for _, st := range steps {
			if st.ID != stepID {
				continue
			}
			if st.Status != domain.StepStatusRunning {
				return fmt.Errorf("update step progress: %w", repo.ErrStaleState)
			}
			st.SetProgress(processed, total)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *Store) findStep(runID, stepID uuid.UUID) *domain.Step {
	for _, st := range s.steps[runID] {
		if st.ID == stepID {
			return st
		}
	}
	return nil
}

// --- Logs ---

// Logs — журнал в памяти.
type Logs struct{ s *Store }

// Append добавляет событие и назначает ID.
func (r *Logs) Append(_ context.Context, event *domain.LogEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextLogID++
	event.ID = r.s.nextLogID
	r.s.logs = append(r.s.logs, *event)
	return nil
}

// ListByRunID возвращает журнал run в порядке записи.
func (r *Logs) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.LogEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.LogEvent
	for _, e := range r.s.logs {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// List возвращает события новыми первыми.
func (r *Logs) List(_ context.Context, filter repo.LogFilter) ([]domain.LogEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	limit := filter.EffectiveLimit()
	var out []domain.LogEvent
	for i := len(r.s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.logs[i]
		if filter.RunID != nil && e.RunID != *filter.RunID {
			continue
		}
		if filter.PipelineName != "" && e.PipelineName != filter.PipelineName {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// --- Orders ---

// Orders — строки заказов в памяти.
type Orders struct{ s *Store }

func (r *Orders) InsertLanding(_ context.Context, rows []domain.LandingOrder) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range rows {
		r.s.landing[o.RunID] = append(r.s.landing[o.RunID], o)
	}
	return len(rows), nil
}

func (r *Orders) ListLanding(_ context.Context, runID uuid.UUID) ([]domain.LandingOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.LandingOrder(nil), r.s.landing[runID]...), nil
}

func (r *Orders) InsertStaging(_ context.Context, rows []domain.StagingOrder) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range rows {
		r.s.staging[o.RunID] = append(r.s.staging[o.RunID], o)
	}
	return len(rows), nil
}

func (r *Orders) ListStaging(_ context.Context, runID uuid.UUID) ([]domain.StagingOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.StagingOrder(nil), r.s.staging[runID]...), nil
}

func (r *Orders) InsertTransformed(_ context.Context, rows []domain.TransformedOrder) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range rows {
		r.s.transformed[o.RunID] = append(r.s.transformed[o.RunID], o)
	}
	return len(rows), nil
}

func (r *Orders) ListTransformed(_ context.Context, runID uuid.UUID) ([]domain.TransformedOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.TransformedOrder(nil), r.s.transformed[runID]...), nil
}

// UpsertTargets применяет строки по порядку; последняя запись побеждает.
func (r *Orders) UpsertTargets(_ context.Context, rows []domain.TargetOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range rows {
		r.s.targets[o.OrderID] = o
	}
	return nil
}

func (r *Orders) GetTarget(_ context.Context, orderID string) (*domain.TargetOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.targets[orderID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &o, nil
}

// TargetCount возвращает количество записей в target.
func (r *Orders) TargetCount() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.targets)
}

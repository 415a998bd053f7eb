package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

const defaultTickInterval = time.Second

// Ошибки scheduler.
var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrNoSource        = errors.New("scheduled source is required")
)

// Trigger создаёт run и уведомляет workers.
type Trigger interface {
	Trigger(ctx context.Context, sourceRef string) (*domain.Run, error)
}

// Locker — блокировка лидера между репликами scheduler.
type Locker interface {
	// TryLock берёт блокировку или подтверждает уже взятую.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Config — конфигурация Scheduler.
type Config struct {
	Trigger Trigger

	// Locker — опционально. Без него экземпляр всегда считается лидером.
	Locker Locker

	// Schedule — cron-выражение.
	Schedule string

	// Location — часовой пояс для Schedule. По умолчанию UTC.
	Location *time.Location

	// Source — ссылка на источник для каждого запуска.
	Source string

	TickInterval time.Duration // default: 1s
	Logger       *slog.Logger

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time
}

// Scheduler запускает pipeline по cron-расписанию.
//
// Тики выполняет только лидер. Время следующего запуска считается
// от момента получения лидерства, пропущенные запуски не догоняются.
type Scheduler struct {
	trigger  Trigger
	locker   Locker
	schedule cron.Schedule
	expr     string
	location *time.Location
	source   string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	leader  bool
	nextDue time.Time

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New создаёт Scheduler. Возвращает ErrInvalidSchedule для некорректного выражения.
func New(cfg Config) (*Scheduler, error) {
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		return nil, ErrNoSource
	}

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		trigger:  cfg.Trigger,
		locker:   cfg.Locker,
		schedule: schedule,
		expr:     cfg.Schedule,
		location: loc,
		source:   cfg.Source,
		interval: interval,
		now:      now,
		logger:   logger.With("component", "scheduler"),
	}, nil
}

// NextDue возвращает время следующего запуска. Нулевое, пока экземпляр не лидер.
func (s *Scheduler) NextDue() time.Time {
	return s.nextDue
}

// IsLeader сообщает, держит ли экземпляр блокировку лидера.
func (s *Scheduler) IsLeader() bool {
	return s.leader
}

// Start запускает цикл тиков.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting scheduler",
		"schedule", s.expr,
		"timezone", s.location.String(),
		"source", s.source,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop останавливает цикл и отпускает блокировку лидера.
func (s *Scheduler) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	defer s.resign()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick выполняет один тик: подтверждает лидерство и запускает pipeline,
// если наступило время.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.ensureLeader(ctx) {
		return
	}

	now := s.now()
	if s.nextDue.IsZero() {
		s.nextDue = NextDue(s.schedule, now, s.location)
		s.logger.Info("next scheduled run", "at", s.nextDue)
		return
	}
	if now.Before(s.nextDue) {
		return
	}

	due := s.nextDue
	s.nextDue = NextDue(s.schedule, now, s.location)

	if err := s.fire(ctx, due); err != nil {
		s.logger.Error("scheduled trigger failed", "due", due, "error", err)
	}
	s.logger.Info("next scheduled run", "at", s.nextDue)
}

func (s *Scheduler) fire(ctx context.Context, due time.Time) error {
	run, err := s.trigger.Trigger(ctx, s.source)
	if err != nil {
		telemetry.ScheduledTriggers.WithLabelValues("error").Inc()
		return fmt.Errorf("trigger: %w", err)
	}

	telemetry.ScheduledTriggers.WithLabelValues("ok").Inc()
	s.logger.Info("scheduled run triggered",
		"run_id", run.ID,
		"run_number", run.Number,
		"due", due,
	)
	return nil
}

// ensureLeader берёт или подтверждает блокировку лидера.
func (s *Scheduler) ensureLeader(ctx context.Context) bool {
	if s.locker == nil {
		s.setLeader(true)
		return true
	}

	ok, err := s.locker.TryLock(ctx)
	if err != nil {
		s.logger.Warn("leader lock check failed", "error", err)
		ok = false
	}
	s.setLeader(ok)
	return ok
}

func (s *Scheduler) setLeader(leader bool) {
	if leader == s.leader {
		return
	}
	s.leader = leader
	if leader {
		telemetry.SchedulerLeader.Set(1)
		s.logger.Info("became scheduler leader")
		return
	}
	telemetry.SchedulerLeader.Set(0)
	s.nextDue = time.Time{}
	s.logger.Warn("lost scheduler leadership")
}

func (s *Scheduler) resign() {
	if s.locker == nil || !s.leader {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Unlock(ctx); err != nil {
		s.logger.Warn("failed to release leader lock", "error", err)
	}
	s.setLeader(false)
}

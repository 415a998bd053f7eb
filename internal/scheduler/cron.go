package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений: пять полей или дескрипторы (@hourly, @every 15m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule разбирает cron-выражение.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return schedule, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// NextDue возвращает следующее время запуска после from в UTC.
// Выражение вычисляется в часовом поясе loc; nil означает UTC.
func NextDue(schedule cron.Schedule, from time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return schedule.Next(from.In(loc)).UTC()
}

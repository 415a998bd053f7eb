// Package scheduler запускает pipeline по cron-расписанию.
//
// Scheduler раз в TickInterval проверяет, наступило ли время следующего
// запуска, и вызывает Trigger с источником из конфигурации. Run создаётся
// так же, как через API: в БД и с уведомлением workers.
//
// Структура:
//   - scheduler.go — цикл тиков и выбор лидера
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Trigger:  orch,
//	    Locker:   repo.NewAdvisoryLock(pool, repo.SchedulerLockKey),
//	    Schedule: "0 * * * *",
//	    Source:   "sample_orders.csv",
//	    Logger:   logger,
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Leader Election:
//
// Несколько реплик scheduler могут работать одновременно. Тики выполняет
// только держатель pg_try_advisory_lock (repo.AdvisoryLock); остальные
// проверяют блокировку каждый тик и становятся лидером после её освобождения.
package scheduler

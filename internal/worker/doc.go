// Package worker выполняет runs, созданные через Trigger.
//
// Worker узнаёт о runs двумя путями: уведомление run.pending из RabbitMQ
// и периодический опрос незабранных runs в БД. Перед выполнением run
// атомарно закрепляется за worker'ом (Claim), поэтому один run выполняет
// ровно один worker, сколько бы уведомлений ни пришло.
//
// Количество одновременно выполняемых runs ограничено Concurrency.
// При старте worker доводит до финального статуса runs, закреплённые
// за ним до перезапуска.
//
//	w := worker.New(worker.Config{
//	    Runs:     runRepo,
//	    Executor: orch,
//	    Conn:     mqConn,
//	    Logger:   logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
package worker

// Package orchestrator управляет жизненным циклом runs.
//
// Состав:
//   - Registry — создание run с номером и четырьмя шагами в Pending
//   - Sequencer — выполнение шагов по порядку с сохранением каждого перехода
//   - Orchestrator — Trigger (через очередь) и RunNow (в текущем процессе)
//
// Всё состояние run хранится в store, поэтому выполнение может начать
// или продолжить любой процесс: API, worker или CLI.
package orchestrator

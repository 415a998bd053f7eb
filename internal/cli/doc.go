// Package cli реализует инструмент командной строки orderpipe.
//
// # Режимы
//
// Команды trigger, list, show, logs и target работают через HTTP API
// и не требуют доступа к БД. Команды run exec, run resume и db migrate
// работают локально: подключаются к БД по DB_URL и выполняют run
// в текущем процессе.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для orderpipe API. Инкапсулирует запросы, парсинг ответов
// (DataResponse, ListResponse, ErrorResponse) и загрузку файлов multipart.
//
//	client := cli.NewClient("http://localhost:8080")
//	resp, err := client.Upload("orders.csv")
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: orderpipe run list --json | jq .
//
// ## Commands
//
//   - run: trigger, list, show, logs, exec, resume
//   - logs: журнал всех runs с фильтрами
//   - target: заказ в целевой таблице
//   - db: migrate
//
// Фабричные функции принимают clientFn и outputFn — замыкания для
// ленивого создания Client и Output после парсинга PersistentFlags.
package cli

// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с зависимостями (trigger, читатели store, uploader)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — logging, recovery
//   - response.go         — JSON-ответы и отображение ошибок в HTTP
//   - dto.go              — запросы и ответы
//   - pipeline_handler.go — POST /pipeline/trigger (JSON или multipart)
//   - run_handler.go      — /runs и журнал run
//   - log_handler.go      — /logs
//   - target_handler.go   — /targets
package api

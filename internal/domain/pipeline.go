package domain

import (
	"fmt"
	"time"
)

// DefaultPipelineName — имя единственного pipeline по умолчанию.
const DefaultPipelineName = "SamplePipeline"

// UnknownCustomer — значение CustomerID для строк с пустым клиентом.
const UnknownCustomer = "UNKNOWN"

// DefaultCorrelationID возвращает токен корреляции для локального запуска.
func DefaultCorrelationID(now time.Time) string {
	return fmt.Sprintf("local-%d", now.UnixMilli())
}

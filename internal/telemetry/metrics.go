package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderpipe"

var (
	// RunsCreated — количество созданных runs.
	RunsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_created_total",
		Help:      "Total runs created by the registry",
	}, []string{"pipeline"})

	// RunsFinished — количество завершённых runs по статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Total runs that reached a terminal status",
	}, []string{"pipeline", "status"})

	// StepDuration — длительность выполнения шагов.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of pipeline steps",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"step", "status"})

	// StageRows — количество строк, обработанных стадиями.
	StageRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_rows_total",
		Help:      "Rows reported by stage handlers",
	}, []string{"step"})

	// RowsDropped — строки, отброшенные валидацией на шаге Extract.
	RowsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_dropped_total",
		Help:      "Rows dropped by Extract validation",
	})

	// LogWriteFailures — неудачные записи в журнал pipeline.
	LogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_write_failures_total",
		Help:      "Pipeline log events that could not be persisted",
	})

	// ActiveExecutions — runs, выполняемые в данный момент этим процессом.
	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_executions",
		Help:      "Runs currently executing in this process",
	})

	// RunsClaimed — runs, забранные workers, по источнику уведомления.
	RunsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_claimed_total",
		Help:      "Runs claimed by workers",
	}, []string{"source"})

	// ScheduledTriggers — запуски по расписанию.
	ScheduledTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_triggers_total",
		Help:      "Pipeline runs triggered by the scheduler",
	}, []string{"result"})

	// SchedulerLeader — 1, если процесс держит блокировку лидера.
	SchedulerLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_leader",
		Help:      "Whether this scheduler instance is the leader",
	})

	// HTTPRequests — количество HTTP запросов.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"service"})
)

// RegisterOps регистрирует /healthz и /metrics.
func RegisterOps(mux *http.ServeMux, service string) {
	startTime := time.Now()
	requests := HTTPRequests.WithLabelValues(service)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		requests.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Truncate(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())
}

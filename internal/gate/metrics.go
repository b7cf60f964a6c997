package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка (включая long-poll)
	RequestDuration *prometheus.HistogramVec

	// Traffic: подачи заявок в разрезе kind и исхода
	SubmissionsTotal *prometheus.CounterVec

	// Long-poll: сколько ожиданий закончились таймаутом, а не сигналом
	PollTimeouts prometheus.Counter

	// Saturation: состояние Circuit Breaker хранилища (0 - ок, 1 - выбило)
	BreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера журнала (backpressure)
	TrailBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signoff_gate_request_duration_seconds",
			Help:    "Histogram of gate request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op", "outcome"}),

		SubmissionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "signoff_submissions_total",
			Help: "Total number of submitted approval requests.",
		}, []string{"kind", "outcome"}),

		PollTimeouts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "signoff_poll_timeouts_total",
			Help: "Long-poll waits that expired without a decision signal.",
		}),

		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "signoff_store_breaker_state",
			Help: "Current state of the store circuit breaker (0=closed, 1=open).",
		}, []string{"name"}),

		TrailBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "signoff_trail_buffer_utilization",
			Help: "Current number of events in the decision trail buffer.",
		}),
	}
}

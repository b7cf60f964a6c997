package domain

// UnifiedDashboard — сводка для главного экрана консоли
type UnifiedDashboard struct {
	Queue    QueueStats    `json:"queue"`    // Состояние очереди заявок
	Activity ActivityStats `json:"activity"` // Поток подач за последний час
	Quality  QualityStats  `json:"quality"`  // SLO по времени решения
}

type QueueStats struct {
	Pending  int              `json:"pending"`
	Approved int              `json:"approved"`
	Denied   int              `json:"denied"`
	ByKind   map[string]int64 `json:"by_kind"` // PENDING-заявки в разрезе kind
}

type ActivityStats struct {
	SubmissionsLastHour int64   `json:"submissions_last_hour"`
	SubmissionsPerSec   float64 `json:"submissions_per_sec"`
	DecisionsLastHour   int64   `json:"decisions_last_hour"`
}

type QualityStats struct {
	// P95 времени от подачи до решения, в секундах
	P95DecisionLatency float64 `json:"p95_decision_latency_sec"`
}

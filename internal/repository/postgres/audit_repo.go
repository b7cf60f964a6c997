package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/signoff/internal/audit"
	"github.com/xela07ax/signoff/internal/domain"
)

// WriteBatch сохраняет пачку событий журнала за один INSERT.
// Реализует audit.Storage для асинхронного Trail.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице decision_log
	numFields := 10
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			e.ID, e.TraceID, e.RequestID, e.Kind, e.RequesterID,
			e.ReviewerID, e.Action, e.Notes, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO decision_log (id, trace_id, request_id, kind, requester_id, reviewer_id, action, notes, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// FetchTrail читает журнал с фильтрацией по заявке и типу workflow
func (r *Repo) FetchTrail(ctx context.Context, requestID, kind string) ([]audit.Event, error) {
	query := `
		SELECT id, trace_id, request_id, kind, requester_id, reviewer_id, action, notes, duration_ms, timestamp
		FROM decision_log`

	var args []interface{}
	var conds []string
	if requestID != "" {
		args = append(args, requestID)
		conds = append(conds, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if kind != "" {
		args = append(args, kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT 200"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query decision log: %w", err)
	}
	defer rows.Close()

	events := make([]audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.RequestID, &e.Kind, &e.RequesterID,
			&e.ReviewerID, &e.Action, &e.Notes, &e.DurationMs, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan decision log row: %w", err)
		}
		events = append(events, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return events, nil
}

// GetUnifiedDashboard собирает сводку для главного экрана консоли
func (r *Repo) GetUnifiedDashboard(ctx context.Context) (*domain.UnifiedDashboard, error) {
	d := &domain.UnifiedDashboard{}

	// 1. Состояние очереди заявок
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'DENIED')
		FROM approval_requests`).Scan(&d.Queue.Pending, &d.Queue.Approved, &d.Queue.Denied)
	if err != nil {
		return nil, err
	}

	// 2. PENDING в разрезе kind
	rows, err := r.pool.Query(ctx, `
		SELECT kind, COUNT(*) FROM approval_requests
		WHERE status = 'PENDING' GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	d.Queue.ByKind = make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		d.Queue.ByKind[kind] = count
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	// 3. Поток за последние 60 минут и честный P95 времени решения
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE action = 'SUBMITTED'),
			COUNT(*) FILTER (WHERE action IN ('APPROVED', 'DENIED')),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms)
			         FILTER (WHERE action IN ('APPROVED', 'DENIED')), 0) / 1000.0
		FROM decision_log
		WHERE timestamp > NOW() - INTERVAL '60 minutes'`).Scan(
		&d.Activity.SubmissionsLastHour,
		&d.Activity.DecisionsLastHour,
		&d.Quality.P95DecisionLatency,
	)
	if err != nil {
		return nil, err
	}

	d.Activity.SubmissionsPerSec = float64(d.Activity.SubmissionsLastHour) / 3600

	return d, nil
}

package postgres

/*
Файл approval_repo.go — хранилище заявок staged approval workflow.
Дедупликация подач и атомарность решений обеспечиваются на уровне SQL:
частичный уникальный индекс по (requester_id, kind) WHERE status = 'PENDING'
и условный UPDATE по статусу.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/workflow"
)

const approvalColumns = `id, kind, requester_id, owner_id, payload, status, reviewer_id, notes, decided_at, created_at`

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var app domain.ApprovalRequest
	var reviewerID, notes sql.NullString // Обработка NULL из БД
	var decidedAt sql.NullTime

	err := row.Scan(
		&app.ID,
		&app.Kind,
		&app.RequesterID,
		&app.OwnerID,
		&app.Payload,
		&app.Status,
		&reviewerID,
		&notes,
		&decidedAt,
		&app.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reviewerID.Valid {
		val := reviewerID.String
		app.ReviewerID = &val
	}
	if notes.Valid {
		val := notes.String
		app.Notes = &val
	}
	if decidedAt.Valid {
		val := decidedAt.Time
		app.DecidedAt = &val
	}

	return &app, nil
}

// InsertPending создает PENDING-заявку. Если по паре (requester_id, kind)
// уже висит живая заявка, вставка упирается в частичный уникальный индекс
// и возвращается существующая запись — идемпотентная повторная подача.
func (r *Repo) InsertPending(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	insert := `
		INSERT INTO approval_requests (id, kind, requester_id, owner_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (requester_id, kind) WHERE status = 'PENDING' DO NOTHING`

	selectPending := `
		SELECT ` + approvalColumns + `
		FROM approval_requests
		WHERE requester_id = $1 AND kind = $2 AND status = 'PENDING'`

	// Между конфликтом вставки и чтением живая заявка могла успеть
	// получить решение — тогда заходим на второй круг
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := r.pool.Exec(ctx, insert,
			req.ID, req.Kind, req.RequesterID, req.OwnerID, req.Payload, req.Status, req.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to create approval request: %w", err)
		}

		if tag.RowsAffected() > 0 {
			return req, nil
		}

		existing, err := scanApproval(r.pool.QueryRow(ctx, selectPending, req.RequesterID, req.Kind))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: failed to read pending duplicate: %w", err)
		}
	}

	return nil, fmt.Errorf("postgres: pending dedup did not converge for requester %s", req.RequesterID)
}

// GetByID получение деталей заявки
func (r *Repo) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`

	app, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: database error: %w", err)
	}

	return app, nil
}

// Decide атомарно переводит заявку из PENDING в терминальный статус.
// Условие WHERE status = 'PENDING' закрывает гонку двух решений:
// второй UPDATE не находит строку и получает ErrAlreadyDecided.
// RETURNING отдает обновленную запись за один проход, без повторного SELECT.
func (r *Repo) Decide(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, notes string, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	query := `
		UPDATE approval_requests
		SET status = $1,
		    reviewer_id = $2,
		    notes = $3,
		    decided_at = $4
		WHERE id = $5 AND status = 'PENDING'
		RETURNING ` + approvalColumns

	app, err := scanApproval(r.pool.QueryRow(ctx, query, status, reviewerID, notes, decidedAt, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Существование заявки проверено выше по стеку, значит
			// решение по ней уже было принято ранее
			return nil, domain.ErrAlreadyDecided
		}
		return nil, fmt.Errorf("postgres: failed to persist decision: %w", err)
	}

	return app, nil
}

// Find фильтрация и выборка списка заявок (Decision Queue)
func (r *Repo) Find(ctx context.Context, f workflow.Filter) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests`

	var args []interface{}
	var conds []string
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)

	for rows.Next() {
		app, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
		}
		results = append(results, app)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

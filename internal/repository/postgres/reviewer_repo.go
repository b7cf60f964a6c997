package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/signoff/internal/domain"
)

func (r *Repo) GetReviewerByUsername(ctx context.Context, username string) (*domain.Reviewer, error) {
	query := `
		SELECT id, email, username, password_hash, owner_id, capabilities, created_at, updated_at
		FROM reviewers WHERE username = $1`

	rev := &domain.Reviewer{}
	var caps []byte
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&rev.ID, &rev.Email, &rev.Username, &rev.PasswordHash, &rev.OwnerID, &caps, &rev.CreatedAt, &rev.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &rev.Capabilities); err != nil {
			return nil, fmt.Errorf("postgres: corrupt capabilities for reviewer %s: %w", rev.ID, err)
		}
	}

	return rev, nil
}

// EnsureReviewer — идемпотентный bootstrap учетной записи.
// Вызывается один раз на старте консоли внешним кодом инициализации;
// повторный запуск с существующим username ничего не меняет.
func (r *Repo) EnsureReviewer(ctx context.Context, rev *domain.Reviewer) error {
	caps, err := json.Marshal(rev.Capabilities)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode capabilities: %w", err)
	}

	query := `
		INSERT INTO reviewers (id, email, username, password_hash, owner_id, capabilities)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO NOTHING`

	_, err = r.pool.Exec(ctx, query,
		rev.ID, rev.Email, rev.Username, rev.PasswordHash, rev.OwnerID, caps)
	if err != nil {
		return fmt.Errorf("postgres: failed to bootstrap reviewer: %w", err)
	}
	return nil
}

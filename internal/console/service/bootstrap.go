package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// BootstrapStore — что нужно bootstrap'у от хранилища
type BootstrapStore interface {
	EnsureReviewer(ctx context.Context, rev *domain.Reviewer) error
}

// Bootstrap идемпотентно заводит стартового super-reviewer'а.
// Явная процедура на старте процесса вместо неявного создания
// дефолтной учетки где-то в глубине ядра. Без пароля в конфиге —
// ничего не создаем (прод без захардкоженных учеток).
func Bootstrap(ctx context.Context, store BootstrapStore, cfg infra.AuthConfig, logger *zap.Logger) error {
	if cfg.BootstrapPassword == "" {
		logger.Info("bootstrap skipped: no bootstrap password configured")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.BootstrapPassword), cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("bootstrap: failed to hash password: %w", err)
	}

	rev := &domain.Reviewer{
		ID:           uuid.New().String(),
		Username:     cfg.BootstrapUsername,
		PasswordHash: string(hash),
		OwnerID:      cfg.BootstrapOwner,
		Capabilities: map[string]bool{domain.CapabilitySuper: true},
	}

	if err := store.EnsureReviewer(ctx, rev); err != nil {
		return err
	}

	logger.Info("bootstrap reviewer ensured", zap.String("username", rev.Username))
	return nil
}

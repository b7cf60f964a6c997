package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/signoff/internal/domain"
	"go.uber.org/zap"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const reviewerKey ctxKey = "reviewer"

// NewMiddleware закрывает роуты консоли RS256-токеном и прокидывает
// reviewer'а из claims в контекст запроса
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reviewer := &domain.Reviewer{
				ID:           claims.ReviewerID,
				OwnerID:      claims.OwnerID,
				Capabilities: claims.Capabilities,
			}

			next.ServeHTTP(w, r.WithContext(WithReviewer(r.Context(), reviewer)))
		})
	}
}

// WithReviewer кладет identity в контекст
func WithReviewer(ctx context.Context, rev *domain.Reviewer) context.Context {
	return context.WithValue(ctx, reviewerKey, rev)
}

// ReviewerFrom достает identity, положенную middleware
func ReviewerFrom(ctx context.Context) (*domain.Reviewer, bool) {
	rev, ok := ctx.Value(reviewerKey).(*domain.Reviewer)
	return rev, ok
}

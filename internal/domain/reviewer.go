package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CapabilitySuper — право решать заявки любого owner'а (bypass проверки
// принадлежности). Моделируется флагом в capabilities, а не отдельным типом.
const CapabilitySuper = "super"

type CustomClaims struct {
	ReviewerID   string          `json:"reviewer_id"`
	OwnerID      string          `json:"owner_id"`      // Очередь (workspace), которую обслуживает reviewer
	Capabilities map[string]bool `json:"capabilities"` // "super": true и т.п.
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Reviewer — учетная запись проверяющего. Решает заявки только своего
// OwnerID, если не выдан CapabilitySuper.
type Reviewer struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	OwnerID      string          `json:"owner_id"`
	Capabilities map[string]bool `json:"capabilities"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CanDecide проверяет право reviewer'а решать заявку данного owner'а
func (r *Reviewer) CanDecide(ownerID string) bool {
	if r.Capabilities[CapabilitySuper] {
		return true
	}
	return r.OwnerID == ownerID
}

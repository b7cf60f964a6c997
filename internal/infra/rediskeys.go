package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "signoff"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanDecisions — широковещательный канал решений reviewer'ов.
	// Формат сообщения: "request_id:STATUS". Его слушает DecisionHub
	// на gate, чтобы будить long-poll requester'ов.
	RedisChanDecisions = RedisNamespace + ":decisions"
)

// DecisionRequestChan Канал точечного сигнала по конкретной заявке
func DecisionRequestChan(requestID string) string {
	return fmt.Sprintf("%s:decisions:request:%s", RedisNamespace, requestID)
}

package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/infra"
	"go.uber.org/zap"
)

// Publisher транслирует решения reviewer'ов через Redis Pub/Sub.
// Реализует workflow.Signaler.
type Publisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger.Named("signal")}
}

// PublishDecision шлет вердикт и в широковещательный канал (его слушает
// DecisionHub на gate), и в точечный канал заявки
func (p *Publisher) PublishDecision(ctx context.Context, requestID string, status domain.ApprovalStatus) error {
	payload := fmt.Sprintf("%s:%s", requestID, status)

	if err := p.rdb.Publish(ctx, infra.RedisChanDecisions, payload).Err(); err != nil {
		return fmt.Errorf("redis signal failure: %w", err)
	}

	// Точечный канал — best effort, широковещательного достаточно
	if err := p.rdb.Publish(ctx, infra.DecisionRequestChan(requestID), string(status)).Err(); err != nil {
		p.logger.Warn("per-request signal failed",
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	return nil
}

// ListenDecisionsResilient — "живучая" подписка на канал решений.
// Обрабатывает переподключения, логирование и разбор сигналов.
func ListenDecisionsResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	onReconnect func(), // Callback для синхронизации при переподключении
	onDecision func(requestID string, status domain.ApprovalStatus),
) {
	channel := infra.RedisChanDecisions

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте: за время обрыва
		// могли пройти решения, ждущие long-poll надо перечитать из БД
		onReconnect()

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "request_id:STATUS"
				idx := strings.LastIndex(msg.Payload, ":")
				if idx <= 0 || idx == len(msg.Payload)-1 {
					logger.Error("invalid decision signal format", zap.String("payload", msg.Payload))
					continue
				}

				requestID := msg.Payload[:idx]
				status := domain.ApprovalStatus(msg.Payload[idx+1:])
				if status != domain.StatusApproved && status != domain.StatusDenied {
					logger.Error("unknown decision status in signal", zap.String("payload", msg.Payload))
					continue
				}

				onDecision(requestID, status)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

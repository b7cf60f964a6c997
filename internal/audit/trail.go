package audit

/*
Файл trail.go реализует Decision Trail — асинхронный журнал жизненного цикла
заявок (подача, апрув, отказ).

Ключевые особенности архитектуры:
- Non-blocking Logging: события из Hot Path (submit/decide) уходят через
  неблокирующий канал, задержки записи в БД не влияют на Response Time.
- Batching: накопление событий в памяти и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью, sync.WaitGroup и закрытие канала гарантируют Final Flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Trail struct {
	ch            chan Event // Буфер для асинхронности
	repo          Storage
	logger        *zap.Logger
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Log после остановки
	isClosed int32
}

func NewTrail(repo Storage, logger *zap.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "trail")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	// Drain Pattern: завершение воркера происходит исключительно
	// через закрытие входного канала
	t.logger.Info("stopping trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("trail stopped gracefully")
}

func (t *Trail) Log(event Event) {
	// Убеждаемся, что таймстемп всегда проставлен
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("trail event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит хотя бы в лог
	select {
	case t.ch <- event:
	default:
		t.logger.Error("trail_buffer_overflow",
			zap.String("request_id", event.RequestID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Buffered возвращает текущую заполненность буфера (для метрик)
func (t *Trail) Buffered() int {
	return len(t.ch)
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("trail flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): воркер сначала вычитал остатки,
				// теперь финальный сброс и выход
				flush()
				t.logger.Info("trail worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

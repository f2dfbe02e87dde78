package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackHooks/internal/broker/messages"
	"github.com/BearBump/TrackHooks/internal/checksum"
	"github.com/BearBump/TrackHooks/internal/integrations/carrier"
	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/pkg/errors"
)

type Repository interface {
	FindByID(ctx context.Context, id string) (*models.WebhookRegistration, error)
	FindDueForCheck(ctx context.Context, limit int) ([]*models.WebhookRegistration, error)
	Update(ctx context.Context, id string, patch models.WebhookPatch) error
	Deactivate(ctx context.Context, id string) error
}

type Cache interface {
	Get(carrierID, trackingNumber string) *models.TrackInfo
	Set(carrierID, trackingNumber string, info *models.TrackInfo)
}

type Carriers interface {
	Get(carrierID string) (carrier.Client, bool)
}

type Enqueuer interface {
	ScheduleMonitor(ctx context.Context, p hookqueue.MonitorPayload) error
	EnqueueDelivery(ctx context.Context, p hookqueue.DeliveryPayload) error
	RemoveScheduled(ctx context.Context, registrationID string) error
}

type RateLimiter interface {
	AllowCarrier(ctx context.Context, carrierID string, limit int64) (bool, int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Worker опрашивает перевозчика по расписанию очереди и при смене чексуммы
// ленты событий ставит задачу доставки. Сам HTTP никуда не шлёт: у доставки
// свой бюджет ретраев, и он не должен тратиться на повторный опрос.
type Worker struct {
	repo     Repository
	cache    Cache
	carriers Carriers
	queue    Enqueuer

	rl                 RateLimiter
	rateLimitPerMinute int64

	producer Producer
	topic    string

	batchSize int

	totalTicks    atomic.Int64
	transitions   atomic.Int64
	carrierErrors atomic.Int64
}

func New(repo Repository, cache Cache, carriers Carriers, queue Enqueuer) *Worker {
	return &Worker{
		repo:      repo,
		cache:     cache,
		carriers:  carriers,
		queue:     queue,
		batchSize: 100,
	}
}

func (w *Worker) WithRateLimiter(rl RateLimiter, perMinute int64) *Worker {
	if rl != nil && perMinute > 0 {
		w.rl = rl
		w.rateLimitPerMinute = perMinute
	}
	return w
}

func (w *Worker) WithProducer(p Producer, topic string) *Worker {
	if p != nil && topic != "" {
		w.producer = p
		w.topic = topic
	}
	return w
}

func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// Dispatch — периодический тик диспетчера: ставит по задаче мониторинга на
// каждую активную регистрацию, которую пора проверить. Дедупликация по
// TaskID гарантирует не больше одного незавершённого тика на регистрацию.
func (w *Worker) Dispatch(ctx context.Context) error {
	due, err := w.repo.FindDueForCheck(ctx, w.batchSize)
	if err != nil {
		return errors.Wrap(err, "find due registrations")
	}

	var lastErr error
	scheduled := 0
	for _, reg := range due {
		err := w.queue.ScheduleMonitor(ctx, hookqueue.MonitorPayload{
			RegistrationID: reg.ID,
			CarrierID:      reg.CarrierID,
			TrackingNumber: reg.TrackingNumber,
		})
		if err != nil {
			lastErr = err
			slog.Error("schedule monitor tick", "registration_id", reg.ID, "error", err.Error())
			continue
		}
		scheduled++
	}

	slog.Info("monitor dispatch", "due", len(due), "scheduled", scheduled)
	return lastErr
}

// Process — один тик мониторинга одной регистрации.
func (w *Worker) Process(ctx context.Context, p hookqueue.MonitorPayload) error {
	w.totalTicks.Add(1)
	now := time.Now().UTC()

	reg, err := w.repo.FindByID(ctx, p.RegistrationID)
	if err != nil {
		return errors.Wrap(err, "load registration")
	}
	if reg == nil || !reg.Active {
		// Регистрации больше нет — снимаем незавершённый тик и выходим.
		if err := w.queue.RemoveScheduled(ctx, p.RegistrationID); err != nil {
			slog.Warn("remove scheduled tick", "registration_id", p.RegistrationID, "error", err.Error())
		}
		return nil
	}

	if !now.Before(reg.ExpirationTime) {
		if err := w.repo.Deactivate(ctx, reg.ID); err != nil {
			return errors.Wrap(err, "deactivate expired registration")
		}
		if err := w.queue.RemoveScheduled(ctx, reg.ID); err != nil {
			slog.Warn("remove scheduled tick", "registration_id", reg.ID, "error", err.Error())
		}
		return nil
	}

	client, ok := w.carriers.Get(reg.CarrierID)
	if !ok {
		// Ретраи не помогут: перевозчик не появится от повторного тика.
		msg := "Carrier not found: " + reg.CarrierID
		return w.recordCheckError(ctx, reg.ID, msg, now)
	}

	info := w.cache.Get(reg.CarrierID, reg.TrackingNumber)
	if info == nil {
		if w.rl != nil {
			allowed, n, err := w.rl.AllowCarrier(ctx, reg.CarrierID, w.rateLimitPerMinute)
			if err != nil {
				return errors.Wrap(err, "carrier rate limit")
			}
			if !allowed {
				// Лимит — не сбой перевозчика: не пишем lastError, просто
				// отдаём тик очереди на повтор.
				slog.Warn("carrier rate limit exceeded", "carrier", reg.CarrierID, "count", n)
				return fmt.Errorf("carrier %s over rate limit", reg.CarrierID)
			}
		}

		info, err = client.Track(ctx, reg.TrackingNumber)
		if err != nil {
			// Сбой источника не должен тратить бюджет доставок: фиксируем
			// ошибку, следующий периодический тик попробует снова.
			w.carrierErrors.Add(1)
			msg := "Tracking API error: " + err.Error()
			return w.recordCheckError(ctx, reg.ID, msg, now)
		}
		w.cache.Set(reg.CarrierID, reg.TrackingNumber, info)
	}

	current, err := checksum.OfEvents(info.Events)
	if err != nil {
		return errors.Wrap(err, "compute checksum")
	}

	if reg.LastChecksum == nil {
		// Первая успешная проверка только фиксирует базовую чексумму.
		// Доставка — про изменение относительно уже виденного состояния,
		// а не про состояние на момент подписки.
		if err := w.repo.Update(ctx, reg.ID, models.WebhookPatch{
			LastChecksum:  &current,
			LastCheckedAt: &now,
		}); err != nil {
			return errors.Wrap(err, "record baseline checksum")
		}
		return nil
	}

	if *reg.LastChecksum == current {
		if err := w.repo.Update(ctx, reg.ID, models.WebhookPatch{LastCheckedAt: &now}); err != nil {
			return errors.Wrap(err, "update last checked")
		}
		return nil
	}

	// Переход чексуммы. Сначала ставим доставку, потом записываем новую
	// чексумму: упади запись — следующий тик повторит ту же доставку
	// (доставка и так at-least-once), а вот обратный порядок молча
	// проглотил бы реальное изменение.
	serialized, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "marshal track info")
	}
	err = w.queue.EnqueueDelivery(ctx, hookqueue.DeliveryPayload{
		RegistrationID:   reg.ID,
		CallbackURL:      reg.CallbackURL,
		TrackInfo:        serialized,
		PreviousChecksum: reg.LastChecksum,
		CurrentChecksum:  current,
	})
	if err != nil {
		return errors.Wrap(err, "enqueue delivery")
	}
	w.transitions.Add(1)

	w.publishChanged(ctx, reg, current, len(info.Events), now)

	if err := w.repo.Update(ctx, reg.ID, models.WebhookPatch{
		LastChecksum:   &current,
		LastCheckedAt:  &now,
		ClearLastError: true,
	}); err != nil {
		return errors.Wrap(err, "update checksum")
	}
	return nil
}

func (w *Worker) recordCheckError(ctx context.Context, id, msg string, now time.Time) error {
	if err := w.repo.Update(ctx, id, models.WebhookPatch{
		LastError:     &msg,
		LastCheckedAt: &now,
	}); err != nil {
		return errors.Wrap(err, "record check error")
	}
	return nil
}

// publishChanged — best-effort событие для внутренних потребителей.
// Ошибка публикации не должна ронять тик: доставка вебхука уже в очереди.
func (w *Worker) publishChanged(ctx context.Context, reg *models.WebhookRegistration, current string, eventCount int, now time.Time) {
	if w.producer == nil {
		return
	}
	msg := messages.WebhookChanged{
		RegistrationID:   reg.ID,
		CarrierID:        reg.CarrierID,
		TrackingNumber:   reg.TrackingNumber,
		PreviousChecksum: reg.LastChecksum,
		CurrentChecksum:  current,
		EventCount:       eventCount,
		CheckedAt:        now,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal webhook changed event", "error", err.Error())
		return
	}
	if err := w.producer.Publish(ctx, w.topic, []byte(reg.ID), b); err != nil {
		slog.Error("publish webhook changed event", "registration_id", reg.ID, "error", err.Error())
	}
}

type Stats struct {
	TotalTicks    int64 `json:"totalTicks"`
	Transitions   int64 `json:"transitions"`
	CarrierErrors int64 `json:"carrierErrors"`
}

func (w *Worker) Stats() Stats {
	return Stats{
		TotalTicks:    w.totalTicks.Load(),
		Transitions:   w.transitions.Load(),
		CarrierErrors: w.carrierErrors.Load(),
	}
}

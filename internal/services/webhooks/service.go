package webhooks

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackHooks/internal/cache/trackcache"
	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/pkg/errors"
)

// ErrInvalidInput — ошибка валидации Register; наружу отдаётся как 400.
var ErrInvalidInput = errors.New("invalid registration input")

// Максимальный срок жизни регистрации.
const maxLifetime = 30 * 24 * time.Hour

type Repository interface {
	Create(ctx context.Context, in models.WebhookCreateInput) (*models.WebhookRegistration, error)
	FindByID(ctx context.Context, id string) (*models.WebhookRegistration, error)
	FindActive(ctx context.Context) ([]*models.WebhookRegistration, error)
	Deactivate(ctx context.Context, id string) error
	GetDeliveryLogs(ctx context.Context, registrationID string, limit int) ([]*models.WebhookDeliveryLog, error)
}

type Queue interface {
	ScheduleMonitor(ctx context.Context, p hookqueue.MonitorPayload) error
	RemoveScheduled(ctx context.Context, registrationID string) error
	Stats(ctx context.Context) (map[string]hookqueue.QueueCounts, error)
}

type Carriers interface {
	Known(carrierID string) bool
}

type Cache interface {
	Stats() trackcache.Stats
	Clear()
}

// Service — публичный фасад подсистемы вебхуков: регистрация, деактивация
// и чтение. Воркеры пишут в хранилище и очередь напрямую, минуя фасад.
type Service struct {
	repo     Repository
	queue    Queue
	carriers Carriers
	cache    Cache

	production bool
}

func New(repo Repository, queue Queue, carriers Carriers, cache Cache, production bool) *Service {
	return &Service{
		repo:       repo,
		queue:      queue,
		carriers:   carriers,
		cache:      cache,
		production: production,
	}
}

func (s *Service) Register(ctx context.Context, in models.WebhookCreateInput) (string, error) {
	if err := s.validate(in); err != nil {
		return "", err
	}

	reg, err := s.repo.Create(ctx, in)
	if err != nil {
		return "", err
	}

	// Первый тик сразу; дальше регистрацию подхватывает периодический
	// диспетчер мониторинга.
	if err := s.queue.ScheduleMonitor(ctx, hookqueue.MonitorPayload{
		RegistrationID: reg.ID,
		CarrierID:      reg.CarrierID,
		TrackingNumber: reg.TrackingNumber,
	}); err != nil {
		return "", errors.Wrap(err, "schedule monitor")
	}

	return reg.ID, nil
}

func (s *Service) validate(in models.WebhookCreateInput) error {
	if in.CarrierID == "" {
		return errors.Wrap(ErrInvalidInput, "carrierId is required")
	}
	if in.TrackingNumber == "" {
		return errors.Wrap(ErrInvalidInput, "trackingNumber is required")
	}

	u, err := url.Parse(in.CallbackURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Wrap(ErrInvalidInput, "callbackUrl must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrap(ErrInvalidInput, "callbackUrl scheme must be http or https")
	}
	if s.production && isPrivateHost(u.Hostname()) {
		return errors.Wrap(ErrInvalidInput, "callbackUrl must not point to a private host")
	}

	now := time.Now()
	if !in.ExpirationTime.After(now) {
		return errors.Wrap(ErrInvalidInput, "expirationTime must be in the future")
	}
	if in.ExpirationTime.After(now.Add(maxLifetime)) {
		return errors.Wrap(ErrInvalidInput, "expirationTime must be within 30 days")
	}

	if !s.carriers.Known(in.CarrierID) {
		return errors.Wrapf(ErrInvalidInput, "unknown carrier: %s", in.CarrierID)
	}
	return nil
}

// isPrivateHost — грубая текстовая проверка приватных диапазонов.
// Префикс "172." шире, чем 172.16.0.0/12, и отсекает и публичные 172.x;
// точная проверка через netip — отдельное ужесточение.
func isPrivateHost(host string) bool {
	h := strings.ToLower(host)
	if h == "localhost" || h == "127.0.0.1" {
		return true
	}
	return strings.HasPrefix(h, "10.") ||
		strings.HasPrefix(h, "172.") ||
		strings.HasPrefix(h, "192.168.")
}

// Deactivate идемпотентен: повторный вызов по уже неактивной регистрации
// не ошибка.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	return s.queue.RemoveScheduled(ctx, id)
}

func (s *Service) GetWebhook(ctx context.Context, id string) (*models.WebhookRegistration, error) {
	return s.repo.FindByID(ctx, id)
}

// ListActive — активные регистрации, давно не проверявшиеся — первыми.
func (s *Service) ListActive(ctx context.Context) ([]*models.WebhookRegistration, error) {
	return s.repo.FindActive(ctx)
}

func (s *Service) GetDeliveryLogs(ctx context.Context, id string, limit int) ([]*models.WebhookDeliveryLog, error) {
	return s.repo.GetDeliveryLogs(ctx, id, limit)
}

func (s *Service) GetQueueStats(ctx context.Context) (map[string]hookqueue.QueueCounts, error) {
	return s.queue.Stats(ctx)
}

func (s *Service) GetCacheStats() trackcache.Stats {
	return s.cache.Stats()
}

func (s *Service) ClearCache() {
	s.cache.Clear()
}

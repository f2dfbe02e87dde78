package hookqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
)

// ErrNoRetry — обработчик решил, что повторять задачу бессмысленно.
// Воркеры возвращают её (обёрнутой), не зная про asynq.
var ErrNoRetry = errors.New("no retry")

// Attempt — номер попытки доставки глазами обработчика.
type Attempt struct {
	Number int32
	Last   bool
}

type Handlers struct {
	Monitor         func(ctx context.Context, p MonitorPayload) error
	MonitorDispatch func(ctx context.Context) error
	Delivery        func(ctx context.Context, p DeliveryPayload, attempt Attempt) error
	Cleanup         func(ctx context.Context) error
}

type ServerConfig struct {
	MonitorConcurrency  int
	DeliveryConcurrency int
	MonitorInterval     time.Duration
}

// Server — серверная сторона очередей: обработчики + периодические задачи
// (cron уборки и диспетчер мониторинга).
type Server struct {
	srv   *asynq.Server
	sched *asynq.Scheduler
	mux   *asynq.ServeMux

	monitorInterval time.Duration
}

func NewServer(redisOpt asynq.RedisClientOpt, cfg ServerConfig, h Handlers) *Server {
	monConc := cfg.MonitorConcurrency
	if monConc <= 0 {
		monConc = 4
	}
	delConc := cfg.DeliveryConcurrency
	if delConc <= 0 {
		delConc = 4
	}
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = time.Hour
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: monConc + delConc + 1,
		Queues: map[string]int{
			QueueDelivery: delConc,
			QueueMonitor:  monConc,
			QueueCleanup:  1,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("task failed", "type", task.Type(), "error", err.Error())
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeMonitorDispatch, func(ctx context.Context, t *asynq.Task) error {
		return wrapNoRetry(h.MonitorDispatch(ctx))
	})
	mux.HandleFunc(TaskTypeMonitor, func(ctx context.Context, t *asynq.Task) error {
		var p MonitorPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal monitor payload: %v: %w", err, asynq.SkipRetry)
		}
		return wrapNoRetry(h.Monitor(ctx, p))
	})
	mux.HandleFunc(TaskTypeDelivery, func(ctx context.Context, t *asynq.Task) error {
		var p DeliveryPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal delivery payload: %v: %w", err, asynq.SkipRetry)
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		attempt := Attempt{
			Number: int32(retried) + 1,
			Last:   retried >= maxRetry,
		}
		return wrapNoRetry(h.Delivery(ctx, p, attempt))
	})
	mux.HandleFunc(TaskTypeCleanup, func(ctx context.Context, t *asynq.Task) error {
		return wrapNoRetry(h.Cleanup(ctx))
	})

	sched := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})

	return &Server{srv: srv, sched: sched, mux: mux, monitorInterval: interval}
}

// Start регистрирует периодические задачи и запускает обработчики.
// Возвращается сразу; остановка — Shutdown.
func (s *Server) Start() error {
	// Уборка — в начале каждого часа; фиксированный TaskID коалесцирует
	// запуски, если предыдущая уборка ещё не завершилась.
	if _, err := s.sched.Register("0 * * * *",
		asynq.NewTask(TaskTypeCleanup, nil),
		asynq.Queue(QueueCleanup),
		asynq.TaskID(cleanupTaskID),
		asynq.MaxRetry(2),
	); err != nil {
		return errors.Wrap(err, "register cleanup cron")
	}

	if _, err := s.sched.Register(fmt.Sprintf("@every %s", s.monitorInterval),
		asynq.NewTask(TaskTypeMonitorDispatch, nil),
		asynq.Queue(QueueMonitor),
		asynq.TaskID(monitorDispatchTaskID),
		asynq.MaxRetry(2),
	); err != nil {
		return errors.Wrap(err, "register monitor dispatch")
	}

	if err := s.srv.Start(s.mux); err != nil {
		return errors.Wrap(err, "start asynq server")
	}
	if err := s.sched.Start(); err != nil {
		s.srv.Shutdown()
		return errors.Wrap(err, "start scheduler")
	}
	return nil
}

// Shutdown останавливает приём задач; незавершённые задачи вернутся в
// очередь и будут выданы заново после рестарта.
func (s *Server) Shutdown() {
	s.sched.Shutdown()
	s.srv.Shutdown()
}

func wrapNoRetry(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoRetry) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// retryDelay: экспонента с базой 60 с для мониторинга и доставки
// (60, 120, 240, ...), фиксированные 5 минут для уборки.
func retryDelay(n int, _ error, t *asynq.Task) time.Duration {
	if t.Type() == TaskTypeCleanup {
		return 5 * time.Minute
	}
	if n > 6 {
		n = 6
	}
	return time.Minute << n
}

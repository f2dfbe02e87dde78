package hookqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
)

// Queue — клиентская сторона очередей: постановка задач и наблюдаемость.
// Обработчики живут в Server, воркеры ходят сюда через узкие интерфейсы.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

func New(redisOpt asynq.RedisClientOpt) *Queue {
	return &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return errors.Wrap(err, "close asynq client")
	}
	return q.inspector.Close()
}

// ScheduleMonitor ставит проверку регистрации. TaskID = id регистрации, так
// что в очереди живёт не больше одного незавершённого тика на регистрацию;
// дубль — не ошибка.
func (q *Queue) ScheduleMonitor(ctx context.Context, p MonitorPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal monitor payload")
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeMonitor, b),
		asynq.Queue(QueueMonitor),
		asynq.TaskID(p.RegistrationID),
		asynq.MaxRetry(2),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "enqueue monitor task")
	}
	return nil
}

// RemoveScheduled снимает незавершённый тик мониторинга для регистрации.
func (q *Queue) RemoveScheduled(ctx context.Context, registrationID string) error {
	err := q.inspector.DeleteTask(QueueMonitor, registrationID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "delete monitor task")
	}
	return nil
}

// EnqueueDelivery ставит одноразовую доставку перехода чексуммы.
// 4 попытки всего; завершённые задачи храним сутки ради счётчиков.
func (q *Queue) EnqueueDelivery(ctx context.Context, p DeliveryPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal delivery payload")
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeDelivery, b),
		asynq.Queue(QueueDelivery),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return errors.Wrap(err, "enqueue delivery task")
	}
	return nil
}

type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Stats возвращает счётчики по трём очередям. Очередь, в которую ещё ничего
// не ставили, отдаётся нулями.
func (q *Queue) Stats(ctx context.Context) (map[string]QueueCounts, error) {
	out := make(map[string]QueueCounts, 3)
	for _, name := range []string{QueueMonitor, QueueDelivery, QueueCleanup} {
		info, err := q.inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out[name] = QueueCounts{}
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "queue info %s", name)
		}
		out[name] = QueueCounts{
			Waiting:   info.Pending,
			Active:    info.Active,
			Completed: info.Completed,
			Failed:    info.Archived,
			Delayed:   info.Scheduled + info.Retry,
		}
	}
	return out, nil
}

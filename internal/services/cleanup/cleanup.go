package cleanup

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

type Repository interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

type Cache interface {
	Cleanup() int
}

// Worker — страховочная уборка: гасит просроченные регистрации (монитор
// проверяет срок и сам, но только когда его тик вообще выполняется) и
// выбрасывает протухшие записи кэша.
type Worker struct {
	repo  Repository
	cache Cache
}

func New(repo Repository, cache Cache) *Worker {
	return &Worker{repo: repo, cache: cache}
}

func (w *Worker) Process(ctx context.Context) error {
	deactivated, err := w.repo.DeactivateExpired(ctx)
	if err != nil {
		return errors.Wrap(err, "deactivate expired")
	}

	evicted := w.cache.Cleanup()
	slog.Info("cleanup pass", "deactivated", deactivated, "cache_evicted", evicted)
	return nil
}

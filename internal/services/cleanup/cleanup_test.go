package cleanup

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	count int64
	err   error
	calls int
}

func (f *fakeRepo) DeactivateExpired(_ context.Context) (int64, error) {
	f.calls++
	return f.count, f.err
}

type fakeCache struct {
	evicted int
	calls   int
}

func (f *fakeCache) Cleanup() int {
	f.calls++
	return f.evicted
}

func TestProcess(t *testing.T) {
	repo := &fakeRepo{count: 3}
	cache := &fakeCache{evicted: 2}
	w := New(repo, cache)

	require.NoError(t, w.Process(context.Background()))
	require.Equal(t, 1, repo.calls)
	require.Equal(t, 1, cache.calls)
}

func TestProcess_StoreErrorPropagates(t *testing.T) {
	repo := &fakeRepo{err: errors.New("pg down")}
	cache := &fakeCache{}
	w := New(repo, cache)

	// Ошибка хранилища уходит в очередь на повтор; кэш в этот заход не трогаем.
	require.Error(t, w.Process(context.Background()))
	require.Zero(t, cache.calls)
}

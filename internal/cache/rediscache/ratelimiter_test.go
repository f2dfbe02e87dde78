package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr(), "", 0)

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestRateLimiter_AllowCarrier(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr(), "", 0)

	ctx := context.Background()
	ok, _, err := rl.AllowCarrier(ctx, "kr.cjlogistics", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, n, err := rl.AllowCarrier(ctx, "kr.cjlogistics", 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(2), n)

	// Лимиты не пересекаются между перевозчиками.
	ok, _, err = rl.AllowCarrier(ctx, "kr.epost", 1)
	require.NoError(t, err)
	require.True(t, ok)
}

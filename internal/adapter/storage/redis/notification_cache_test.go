package redis

import (
	"context"
	"testing"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *NotificationCache) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, NewNotificationCache(client)
}

func TestNotificationCache_SetAndGet(t *testing.T) {
	s, cache := newTestCache(t)
	ctx := context.Background()

	key := domain.BuildNotificationKey("moonpay", "evt_1")
	value := []byte(`{"outcome":"APPLIED"}`)

	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, key, value, 72*time.Hour))

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, result)
	assert.True(t, s.Exists("ledger:notification:moonpay:evt_1"))
}

func TestNotificationCache_TTLExpiry(t *testing.T) {
	s, cache := newTestCache(t)
	ctx := context.Background()

	key := domain.BuildNotificationKey("transak", "evt_2")
	require.NoError(t, cache.Set(ctx, key, []byte("APPLIED"), time.Second))

	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestNotificationCache_NoTTL(t *testing.T) {
	s, cache := newTestCache(t)
	ctx := context.Background()

	key := domain.BuildNotificationKey("moonpay", "evt_3")
	require.NoError(t, cache.Set(ctx, key, []byte("NOOP"), 0))

	assert.Zero(t, s.TTL("ledger:notification:moonpay:evt_3"))
}

func TestNotificationCache_ServerDown(t *testing.T) {
	s, cache := newTestCache(t)
	s.Close()

	_, err := cache.Get(context.Background(), "moonpay:evt_4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis notification get")

	err = cache.Set(context.Background(), "moonpay:evt_4", []byte("x"), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis notification set")
}

func TestHealthCheck(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer client.Close()

	hc := NewHealthCheck(client)
	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Ping(context.Background()))
}

package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
)

// fixture wires both stores to one miniredis server for a single test.
type fixture struct {
	ctx    context.Context
	server *miniredis.Miniredis
	client *redislib.Client
	cache  *Cache
	claims *IdempotencyStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	server := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{
		ctx:    context.Background(),
		server: server,
		client: client,
		cache:  NewCache(client),
		claims: NewIdempotencyStore(client),
	}
}

// raw reads a key as stored, bypassing the store prefixes.
func (f *fixture) raw(t *testing.T, key string) string {
	t.Helper()

	val, err := f.client.Get(f.ctx, key).Result()
	if err != nil {
		t.Fatalf("get %s failed: %v", key, err)
	}
	return val
}

package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/getlantern/sesame/testsupport"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("set REDIS_ADDR to run redis store tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.FlushDB(context.Background()).Err())

	store, err := New(client)
	require.NoError(t, err)
	defer store.Close()

	testsupport.TestStore(t, store)
}

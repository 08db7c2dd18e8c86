package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startRedisRegistry(t *testing.T, rdb *redis.Client) *RedisRegistry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := NewRedisRegistry(rdb, "room:", NewLocalRegistry(0, nil), zaptest.NewLogger(t))
	go func() { _ = reg.Run(ctx) }()

	select {
	case <-reg.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never became ready")
	}
	return reg
}

func TestRedisRegistry_DeliversAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	first := startRedisRegistry(t, rdb)
	second := startRedisRegistry(t, rdb)

	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, first.Join(a, "playlist-42"))
	require.NoError(t, second.Join(b, "playlist-42"))
	outsider := newFakeConn("o")
	require.NoError(t, second.Join(outsider, "playlist-7"))

	first.Broadcast(context.Background(), Message{Room: "playlist-42", Data: []byte(`{"type":"item.added"}`)})

	assert.Eventually(t, func() bool {
		return len(a.received()) == 1 && len(b.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, outsider.received())
	assert.Equal(t, 1, first.Members("playlist-42"))
}

func TestRedisRegistry_ExceptAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	first := startRedisRegistry(t, rdb)
	second := startRedisRegistry(t, rdb)

	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, first.Join(a, "chat-lobby"))
	require.NoError(t, second.Join(b, "chat-lobby"))

	second.Broadcast(context.Background(), Message{Room: "chat-lobby", Data: []byte("hi"), Except: "a"})

	assert.Eventually(t, func() bool { return len(b.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	// Give the other instance time to (not) deliver.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.received())
}

func TestRedisRegistry_FallsBackToLocalWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	reg := NewRedisRegistry(rdb, "", NewLocalRegistry(0, nil), zaptest.NewLogger(t))
	a := newFakeConn("a")
	require.NoError(t, reg.Join(a, "R"))

	mr.Close()
	reg.Broadcast(context.Background(), Message{Room: "R", Data: []byte("local")})

	assert.Equal(t, []string{"local"}, a.received())
}

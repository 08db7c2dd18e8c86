package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannelPrefix = "room:"

// RedisRegistry shares broadcasts between service instances. Membership is
// still local; every Broadcast is published on <prefix><room> and each
// instance delivers it to its own members from Run.
type RedisRegistry struct {
	local  *LocalRegistry
	rdb    *redis.Client
	prefix string
	log    *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisRegistry(rdb *redis.Client, prefix string, local *LocalRegistry, log *zap.Logger) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRegistry{
		local:  local,
		rdb:    rdb,
		prefix: prefix,
		log:    log,
		ready:  make(chan struct{}),
	}
}

func (r *RedisRegistry) Join(conn Conn, room string) error { return r.local.Join(conn, room) }

func (r *RedisRegistry) Leave(connID string) (string, bool) { return r.local.Leave(connID) }

func (r *RedisRegistry) Members(room string) int { return r.local.Members(room) }

// Broadcast publishes msg for every instance. If Redis is unreachable the
// message is still delivered to local members.
func (r *RedisRegistry) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal room message", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.prefix+msg.Room, data).Err(); err != nil {
		r.log.Warn("publish room message, delivering locally",
			zap.String("room", msg.Room),
			zap.Error(err),
		)
		r.local.Broadcast(ctx, msg)
	}
}

// Ready is closed once Run has an active subscription.
func (r *RedisRegistry) Ready() <-chan struct{} { return r.ready }

// Run subscribes to every room channel and delivers messages locally until
// ctx is cancelled.
func (r *RedisRegistry) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	// Wait for the subscription confirmation before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.log.Info("room subscription active", zap.String("pattern", r.prefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Warn("drop malformed room message", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if msg.Room == "" {
				msg.Room = strings.TrimPrefix(m.Channel, r.prefix)
			}
			r.local.Broadcast(ctx, msg)
		}
	}
}

package room

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"collabgrid/internal/metrics"
)

// ChannelPrefix namespaces relay channels in Redis.
const ChannelPrefix = "collabgrid:room:"

// PublishTimeout bounds a single publish. Broadcasts are submitted while a
// document is locked, so a stalled Redis must not hold it for long.
const PublishTimeout = 500 * time.Millisecond

// RedisRelay is a Dispatcher that fans room broadcasts out through Redis
// Pub/Sub, so every server subscribed to the relay delivers them to its own
// local members. Joins, leaves and unicasts stay on the local Hub.
type RedisRelay struct {
	rdb     *redis.Client
	local   *Hub
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	// ctx is cancelled when Run returns, failing later publishes at once.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisRelay returns a relay delivering through local. The client
// should have ContextTimeoutEnabled set so publishes honor PublishTimeout.
func NewRedisRelay(rdb *redis.Client, local *Hub, logger *slog.Logger, m *metrics.Metrics) *RedisRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisRelay{
		rdb:     rdb,
		local:   local,
		log:     logger,
		metrics: m,
		timeout: PublishTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Channel returns the Redis channel carrying a room's broadcasts.
func Channel(room string) string {
	return ChannelPrefix + room
}

func (r *RedisRelay) Join(room string, m Member)  { r.local.Join(room, m) }
func (r *RedisRelay) Leave(room, memberID string) { r.local.Leave(room, memberID) }
func (r *RedisRelay) Send(m Member, msg []byte)   { r.local.Send(m, msg) }

// Broadcast publishes msg to the room's channel. A failed or timed out
// publish is logged and the message is lost.
func (r *RedisRelay) Broadcast(room string, msg []byte) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, Channel(room), msg).Err(); err != nil {
		r.metrics.RelayErrors.Inc()
		r.log.Error("error publishing to redis", "room", room, "error", err)
	}
}

// Run subscribes to every room channel and relays incoming messages to the
// local hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	defer r.cancel()

	pubsub := r.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis relay: %w", err)
	}
	r.log.Info("subscribed to redis relay", "pattern", ChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			r.log.Debug("relaying message from redis", "room", room, "bytes", len(msg.Payload))
			r.local.Broadcast(room, []byte(msg.Payload))
		}
	}
}

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient builds a client from either a redis:// URL or a bare host:port
// and verifies it answers PING.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(rawURL, "://") {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: rawURL, DB: 0}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Redis relays room payloads over redis pub/sub, one channel per room.
type Redis struct {
	client *redis.Client
	prefix string
	log    *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

func NewRedis(ctx context.Context, client *redis.Client, prefix string, log *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "chat"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		log:    log.With("component", "relay", "backend", "redis"),
		pubsub: client.Subscribe(ctx),
	}
}

var _ Relay = (*Redis)(nil)

func (r *Redis) channel(room string) string {
	return r.prefix + ":room:" + room
}

func (r *Redis) room(channel string) string {
	return strings.TrimPrefix(channel, r.prefix+":room:")
}

func (r *Redis) Publish(ctx context.Context, room string, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, room string) error {
	if err := r.pubsub.Subscribe(ctx, r.channel(room)); err != nil {
		return fmt.Errorf("subscribe %s: %w", room, err)
	}
	return nil
}

func (r *Redis) Unsubscribe(ctx context.Context, room string) error {
	if err := r.pubsub.Unsubscribe(ctx, r.channel(room)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", room, err)
	}
	return nil
}

func (r *Redis) Run(ctx context.Context, h Handler) error {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h(r.room(msg.Channel), []byte(msg.Payload))
		}
	}
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.pubsub.Close(); err != nil {
		r.log.Warn("close pubsub", "error", err)
	}
	return nil
}

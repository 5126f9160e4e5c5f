package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers a live event to a connected recipient. Delivery is
// best-effort: the notification row is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, recipientID uint, payload []byte) error
	Name() string
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, uint, []byte) error { return nil }
func (NopPublisher) Name() string                                { return "none" }

// RedisPublisher publishes on one pub/sub channel per recipient,
// "<prefix>.<recipient id>". The client is owned by the caller.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, recipientID uint, payload []byte) error {
	channel := fmt.Sprintf("%s.%d", p.prefix, recipientID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) Name() string { return "redis" }

// NATSPublisher publishes on subject "<prefix>.<recipient id>". The
// connection is owned by the caller.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Publish(ctx context.Context, recipientID uint, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%d", p.prefix, recipientID)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Name() string { return "nats" }

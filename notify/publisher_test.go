package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

func integrationEnv(t *testing.T, key string) string {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), 1, []byte("{}")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "none" {
		t.Fatalf("unexpected name %q", p.Name())
	}
}

func TestRedisPublisherChannelPerRecipient(t *testing.T) {
	addr := integrationEnv(t, "REDIS_ADDR")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	sub := client.Subscribe(ctx, "it.notifications.7")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewRedisPublisher(client, "it.notifications")
	if err := p.Publish(ctx, 7, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Payload != `{"id":1}` {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}
}

func TestNATSPublisherSubjectPerRecipient(t *testing.T) {
	url := integrationEnv(t, "NATS_URL")
	conn, err := nats.Connect(url)
	if err != nil {
		t.Skipf("nats unavailable: %v", err)
	}
	defer conn.Close()

	sub, err := conn.SubscribeSync("it.notifications.9")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p := NewNATSPublisher(conn, "it.notifications")
	if err := p.Publish(context.Background(), 9, []byte(`{"id":2}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != `{"id":2}` {
		t.Fatalf("unexpected payload %q", msg.Data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, 9, nil); err == nil {
		t.Fatal("expected cancelled context to fail")
	}
}

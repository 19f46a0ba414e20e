package receivers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"go.feedmesh.dev/internal/message"
)

func TestRedisReceiverPublishesMessage(t *testing.T) {
	s := miniredis.RunT(t)

	h, err := newRedisReceiver(context.Background(), &RedisInitOptions{Addr: s.Addr()})
	if err != nil {
		t.Fatalf("newRedisReceiver: %v", err)
	}

	sub := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(context.Background(), "posts.new")
	defer pubsub.Close()
	if _, err := pubsub.Receive(context.Background()); err != nil {
		t.Fatalf("Receive (subscribe confirm): %v", err)
	}

	messages := []message.Message{{PostID: "p1", Template: "hi"}}
	if _, err := h.Call(context.Background(), &RedisCallOptions{Channel: "posts.new"}, messages); err != nil {
		t.Fatalf("Call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}

	var got []message.Message
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if len(got) != 1 || got[0].PostID != "p1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestRedisInitOptionsValidate(t *testing.T) {
	if (&RedisInitOptions{}).Validate() == nil {
		t.Fatal("expected error for missing addr")
	}
}

func TestRedisCallOptionsValidate(t *testing.T) {
	if (&RedisCallOptions{}).Validate() == nil {
		t.Fatal("expected error for missing channel")
	}
}

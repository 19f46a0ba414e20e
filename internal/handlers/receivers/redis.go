package receivers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/message"
)

// RedisInitOptions configures the shared connection to a Redis instance
// used purely as a pub/sub broker.
type RedisInitOptions struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (o *RedisInitOptions) Validate() error {
	if o.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	return nil
}

// RedisCallOptions carries the per-stream channel name.
type RedisCallOptions struct {
	Channel string `mapstructure:"channel"`
}

func (o *RedisCallOptions) Validate() error {
	if o.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	return nil
}

type redisReceiver struct {
	client *redis.Client
}

func newRedisReceiver(_ context.Context, initOpts handler.Options) (handler.Handler, error) {
	opts, ok := initOpts.(*RedisInitOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/redis: unexpected init options type %T", initOpts)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &redisReceiver{client: client}, nil
}

func (r *redisReceiver) Call(ctx context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*RedisCallOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/redis: unexpected options type %T", callOptions)
	}
	messages, ok := payload.([]message.Message)
	if !ok {
		return nil, fmt.Errorf("receivers/redis: unexpected payload type %T", payload)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("receivers/redis: marshaling payload: %w", err)
	}
	if err := r.client.Publish(ctx, opts.Channel, data).Err(); err != nil {
		return nil, fmt.Errorf("receivers/redis: publishing to %s: %w", opts.Channel, err)
	}
	return nil, nil
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindReceiver,
		Name:           "redis",
		NewInitOptions: func() handler.Options { return &RedisInitOptions{} },
		Construct:      newRedisReceiver,
		NewCallOptions: func() handler.Options { return &RedisCallOptions{} },
	})
}

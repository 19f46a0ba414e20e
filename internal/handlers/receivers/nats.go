package receivers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/message"
)

const flushTimeout = 5 * time.Second

// NATSInitOptions configures the receiver's connection. Unlike the
// teacher's JetStream-backed publisher, this uses core NATS publish: the
// outbox is this system's durability boundary, so the broker does not need
// to persist or redeliver on the receiver's behalf.
type NATSInitOptions struct {
	URL string `mapstructure:"url"`
}

func (o *NATSInitOptions) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// NATSCallOptions carries the per-stream subject.
type NATSCallOptions struct {
	Subject string `mapstructure:"subject"`
}

func (o *NATSCallOptions) Validate() error {
	if o.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

type natsReceiver struct {
	conn *nats.Conn
}

func newNATSReceiver(_ context.Context, initOpts handler.Options) (handler.Handler, error) {
	opts, ok := initOpts.(*NATSInitOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/nats: unexpected init options type %T", initOpts)
	}
	conn, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("receivers/nats: connecting to %s: %w", opts.URL, err)
	}
	return &natsReceiver{conn: conn}, nil
}

func (r *natsReceiver) Call(_ context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*NATSCallOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/nats: unexpected options type %T", callOptions)
	}
	messages, ok := payload.([]message.Message)
	if !ok {
		return nil, fmt.Errorf("receivers/nats: unexpected payload type %T", payload)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("receivers/nats: marshaling payload: %w", err)
	}
	if err := r.conn.Publish(opts.Subject, data); err != nil {
		return nil, fmt.Errorf("receivers/nats: publishing to %s: %w", opts.Subject, err)
	}
	return nil, r.conn.FlushTimeout(flushTimeout)
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindReceiver,
		Name:           "nats",
		NewInitOptions: func() handler.Options { return &NATSInitOptions{} },
		Construct:      newNATSReceiver,
		NewCallOptions: func() handler.Options { return &NATSCallOptions{} },
	})
}

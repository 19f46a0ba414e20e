package receivers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"go.feedmesh.dev/internal/message"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func TestNATSReceiverPublishesMessage(t *testing.T) {
	url := startEmbeddedNATS(t)

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	defer sub.Close()

	received := make(chan []byte, 1)
	if _, err := sub.Subscribe("posts.new", func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	h, err := newNATSReceiver(context.Background(), &NATSInitOptions{URL: url})
	if err != nil {
		t.Fatalf("newNATSReceiver: %v", err)
	}

	messages := []message.Message{{PostID: "p1", Template: "hi"}}
	if _, err := h.Call(context.Background(), &NATSCallOptions{Subject: "posts.new"}, messages); err != nil {
		t.Fatalf("Call: %v", err)
	}

	select {
	case data := <-received:
		var got []message.Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshaling received message: %v", err)
		}
		if len(got) != 1 || got[0].PostID != "p1" {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSInitOptionsValidate(t *testing.T) {
	if (&NATSInitOptions{}).Validate() == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestNATSCallOptionsValidate(t *testing.T) {
	if (&NATSCallOptions{}).Validate() == nil {
		t.Fatal("expected error for missing subject")
	}
}

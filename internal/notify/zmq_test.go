package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gompow/pkg/log"
)

type countingTrigger struct {
	n atomic.Int32
}

func (c *countingTrigger) Trigger() { c.n.Add(1) }

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		msg       [][]byte
		wantTopic string
		wantData  string
	}{
		{"empty", nil, "", ""},
		{"topic only", [][]byte{[]byte("work")}, "work", ""},
		{"topic and data", [][]byte{[]byte("work"), []byte("PEPE")}, "work", "PEPE"},
		{"extra frames", [][]byte{[]byte("work"), []byte("a"), []byte("b")}, "work", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, data := Split(tt.msg)
			if topic != tt.wantTopic || string(data) != tt.wantData {
				t.Errorf("Split() = %q/%q, want %q/%q", topic, data, tt.wantTopic, tt.wantData)
			}
		})
	}
}

func TestRefreshHandler(t *testing.T) {
	trigger := &countingTrigger{}
	handler := RefreshHandler(trigger, log.Discard())

	for range 3 {
		if err := handler("work", nil); err != nil {
			t.Fatalf("handler() error = %v", err)
		}
	}
	if got := trigger.n.Load(); got != 3 {
		t.Errorf("triggers = %d, want 3", got)
	}
}

func TestNewSubscriber(t *testing.T) {
	sub, err := NewSubscriber("tcp://localhost:28332", log.Discard())
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}
	defer func() { _ = sub.Close() }()

	if sub.endpoint != "tcp://localhost:28332" {
		t.Errorf("endpoint = %s", sub.endpoint)
	}
	for _, topic := range []string{"", "work", "PEPE"} {
		if err := sub.Subscribe(topic); err != nil {
			t.Errorf("Subscribe(%q) error = %v", topic, err)
		}
	}
}

func TestSubscriber_ConnectInvalidEndpoint(t *testing.T) {
	sub, err := NewSubscriber("not-an-endpoint", log.Discard())
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}
	defer func() { _ = sub.Close() }()

	if err := sub.Connect(); err == nil {
		t.Error("Connect() error = nil for invalid endpoint")
	}
}

func TestSubscriber_ListenTriggersRefresh(t *testing.T) {
	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		t.Fatalf("NewSocket() error = %v", err)
	}
	defer func() { _ = pub.Close() }()
	if err := pub.Bind("inproc://notify-test"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	sub, err := NewSubscriber("inproc://notify-test", log.Discard())
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}
	defer func() { _ = sub.Close() }()
	if err := sub.Subscribe(""); err != nil {
		t.Fatal(err)
	}
	if err := sub.Connect(); err != nil {
		t.Fatal(err)
	}

	trigger := &countingTrigger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Listen(ctx, RefreshHandler(trigger, log.Discard())) }()

	// Subscriptions propagate asynchronously, so keep publishing until one lands.
	deadline := time.Now().Add(5 * time.Second)
	for trigger.n.Load() == 0 && time.Now().Before(deadline) {
		if _, err := pub.SendMessage("work", "PEPE"); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Listen() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen() did not stop after cancel")
	}

	if trigger.n.Load() == 0 {
		t.Error("expected at least one refresh trigger")
	}
}

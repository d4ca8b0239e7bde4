// Package notify listens for ZMQ push notices from the job server and turns
// them into immediate work refreshes.
package notify

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gompow/pkg/log"
)

// PollInterval bounds how long Listen waits before rechecking its context
const PollInterval = 250 * time.Millisecond

// Handler processes one notice
type Handler func(topic string, data []byte) error

// Trigger is the part of work.Refresher a notice drives
type Trigger interface {
	Trigger()
}

// Subscriber receives notices on a ZMQ SUB socket
type Subscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewSubscriber creates an unconnected subscriber for endpoint
func NewSubscriber(endpoint string, logger *log.Logger) (*Subscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &Subscriber{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("notify"),
	}, nil
}

// Subscribe subscribes to a topic prefix. The empty topic receives everything.
func (s *Subscriber) Subscribe(topic string) error {
	if err := s.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	s.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (s *Subscriber) Connect() error {
	if err := s.socket.Connect(s.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", s.endpoint, err)
	}
	s.logger.Info("connected to ZMQ endpoint", "endpoint", s.endpoint)
	return nil
}

// Listen delivers notices to handler until ctx is done
func (s *Subscriber) Listen(ctx context.Context, handler Handler) error {
	s.logger.Info("starting ZMQ listener")

	poller := zmq.NewPoller()
	poller.Add(s.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		polled, err := poller.Poll(PollInterval)
		if err != nil {
			s.logger.Error("failed to poll ZMQ socket", "error", err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			s.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		topic, data := Split(msg)
		s.logger.Debug("received ZMQ message", "topic", topic, "size", len(data))

		if err := handler(topic, data); err != nil {
			s.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (s *Subscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}

// Split separates a multipart message into topic and payload. A single
// frame is a topic with no payload.
func Split(msg [][]byte) (string, []byte) {
	switch len(msg) {
	case 0:
		return "", nil
	case 1:
		return string(msg[0]), nil
	default:
		return string(msg[0]), msg[1]
	}
}

// RefreshHandler triggers a work refresh for every notice
func RefreshHandler(t Trigger, logger *log.Logger) Handler {
	return func(topic string, data []byte) error {
		logger.Debug("refresh notice", "topic", topic, "size", len(data))
		t.Trigger()
		return nil
	}
}

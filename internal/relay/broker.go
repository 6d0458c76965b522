// Package relay fans room events out to the process holding each target
// player's connection.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Handler receives one broker message.
type Handler func(channel string, data []byte)

// Broker is a fire-and-forget pub/sub transport shared by all processes.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscribe delivers messages for channels to h until ctx is done.
	Subscribe(ctx context.Context, channels []string, h Handler) error
	Close() error
}

// RedisBroker uses Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, data []byte) error {
	return b.client.Publish(ctx, channel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels []string, h Handler) error {
	sub := b.client.Subscribe(ctx, channels...)
	defer sub.Close()

	// Wait for the subscription confirmation so publishes after this call
	// returns are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", strings.Join(channels, ","), err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			h(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBroker) Close() error {
	return nil
}

// NATSBroker uses core NATS subjects.
type NATSBroker struct {
	conn *nats.Conn
}

// NewNATSBroker connects to url with unlimited reconnects.
func NewNATSBroker(url string) (*NATSBroker, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("quizrooms-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSBroker{conn: conn}, nil
}

func (b *NATSBroker) Publish(ctx context.Context, channel string, data []byte) error {
	return b.conn.Publish(channel, data)
}

func (b *NATSBroker) Subscribe(ctx context.Context, channels []string, h Handler) error {
	// A single buffered channel keeps delivery on one goroutine, in order.
	msgs := make(chan *nats.Msg, 1024)
	subs := make([]*nats.Subscription, 0, len(channels))
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	for _, c := range channels {
		s, err := b.conn.ChanSubscribe(c, msgs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", c, err)
		}
		subs = append(subs, s)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			h(msg.Subject, msg.Data)
		}
	}
}

func (b *NATSBroker) Close() error {
	b.conn.Close()
	return nil
}

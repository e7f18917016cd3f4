package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis Pub/Sub.
// Every endpoint on the same channel name sees every other endpoint's messages.
type RedisBus struct {
	client  *redis.Client
	channel string
	sender  string
	log     *slog.Logger
	owned   bool

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
	closed bool
}

// RedisOption configures a RedisBus.
type RedisOption func(*RedisBus)

// WithRedisLogger sets the logger used for dropped messages.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(b *RedisBus) { b.log = l }
}

// WithOwnedClient makes Close also close the client.
func WithOwnedClient() RedisOption {
	return func(b *RedisBus) { b.owned = true }
}

// NewRedis creates a Redis Pub/Sub endpoint on channel.
// The client stays owned by the caller unless WithOwnedClient is given.
func NewRedis(client *redis.Client, channel string, opts ...RedisOption) *RedisBus {
	b := &RedisBus{
		client:  client,
		channel: channel,
		sender:  uuid.NewString(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends msg on the channel.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := encodeEnvelope(b.sender, msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to the channel and starts delivering messages to h.
// It returns an error if the subscription cannot be confirmed.
func (b *RedisBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.pubsub != nil {
		return ErrAlreadySubscribed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("redis: failed to subscribe to %s: %w", b.channel, err)
	}

	b.pubsub = ps
	b.done = make(chan struct{})
	go b.receiveLoop(ps.Channel(), h, b.done)
	return nil
}

func (b *RedisBus) receiveLoop(ch <-chan *redis.Message, h Handler, done chan struct{}) {
	defer close(done)

	for m := range ch {
		sender, msg, err := decodeEnvelope([]byte(m.Payload))
		if err != nil {
			b.log.Debug("dropping broadcast message", "channel", b.channel, "error", err)
			continue
		}
		if sender == b.sender {
			continue
		}
		h(msg)
	}
}

// Close unsubscribes and waits for the receive loop to stop.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps, done := b.pubsub, b.done
	b.mu.Unlock()

	var errs []error
	if ps != nil {
		if err := ps.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: failed to close subscription: %w", err))
		}
		<-done
	}
	if b.owned {
		if err := b.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: failed to close client: %w", err))
		}
	}
	return errors.Join(errs...)
}

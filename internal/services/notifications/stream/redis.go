package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStream publishes and subscribes events on pos:stream:<topic> channels.
type RedisStream struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisStream(client *redis.Client, log *zap.Logger) *RedisStream {
	return &RedisStream{client: client, log: log}
}

func (s *RedisStream) Publish(ctx context.Context, e Event) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, Channel(e.Topic), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Topic, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning, so
// a nil error means the channel is live.
func (s *RedisStream) Subscribe(ctx context.Context, topic string, onEvent Handler) (Handle, error) {
	ps := s.client.Subscribe(ctx, Channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		topic:  topic,
		ps:     ps,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    s.log,
	}
	go sub.run(runCtx, onEvent)
	return sub, nil
}

type redisSubscription struct {
	topic  string
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func (r *redisSubscription) run(ctx context.Context, onEvent Handler) {
	defer close(r.done)
	for {
		msg, err := r.ps.Receive(ctx)
		if err != nil {
			r.mu.Lock()
			if !r.closed {
				r.err = err
			}
			r.mu.Unlock()
			return
		}

		switch m := msg.(type) {
		case *redis.Message:
			e, err := Decode([]byte(m.Payload))
			if err != nil {
				r.log.Warn("dropping malformed event", zap.String("topic", r.topic), zap.Error(err))
				continue
			}
			if e.Topic == "" {
				e.Topic = r.topic
			}
			onEvent(e)
		case *redis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				r.mu.Lock()
				if !r.closed {
					r.err = ErrClosed
				}
				r.mu.Unlock()
				return
			}
		case *redis.Pong:
		}
	}
}

func (r *redisSubscription) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.ps.Close()
	<-r.done
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func (r *redisSubscription) Done() <-chan struct{} { return r.done }

func (r *redisSubscription) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

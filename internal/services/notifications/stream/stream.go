// Package stream carries row change events over Redis pub/sub.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
)

const (
	TopicOrders    = "orders"
	TopicProducts  = "products"
	TopicCustomers = "customers"
)

const channelPrefix = "pos:stream:"

var ErrClosed = errors.New("subscription closed")

// Event is one row change. Old is only set on updates that carry the
// previous row.
type Event struct {
	Topic string
	Type  EventType
	Row   *structpb.Struct
	Old   *structpb.Struct
	At    time.Time
}

type Handler func(Event)

// Handle is a live subscription. Done is closed when the subscription ends,
// after which Err reports why (nil after Close).
type Handle interface {
	Close() error
	Done() <-chan struct{}
	Err() error
}

type Stream interface {
	Subscribe(ctx context.Context, topic string, onEvent Handler) (Handle, error)
}

func Channel(topic string) string {
	return channelPrefix + topic
}

type envelope struct {
	Topic string          `json:"topic"`
	Type  EventType       `json:"type"`
	Row   json.RawMessage `json:"row"`
	Old   json.RawMessage `json:"old,omitempty"`
	At    time.Time       `json:"at"`
}

func Encode(e Event) ([]byte, error) {
	env := envelope{Topic: e.Topic, Type: e.Type, At: e.At}
	if env.At.IsZero() {
		env.At = time.Now()
	}
	var err error
	if e.Row != nil {
		if env.Row, err = protojson.Marshal(e.Row); err != nil {
			return nil, fmt.Errorf("failed to marshal row: %w", err)
		}
	}
	if e.Old != nil {
		if env.Old, err = protojson.Marshal(e.Old); err != nil {
			return nil, fmt.Errorf("failed to marshal old row: %w", err)
		}
	}
	return json.Marshal(env)
}

func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	e := Event{Topic: env.Topic, Type: env.Type, At: env.At}
	if len(env.Row) > 0 {
		e.Row = &structpb.Struct{}
		if err := protojson.Unmarshal(env.Row, e.Row); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal row: %w", err)
		}
	}
	if len(env.Old) > 0 {
		e.Old = &structpb.Struct{}
		if err := protojson.Unmarshal(env.Old, e.Old); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal old row: %w", err)
		}
	}
	return e, nil
}

// NewRow builds a row payload from plain Go values.
func NewRow(fields map[string]interface{}) (*structpb.Struct, error) {
	return structpb.NewStruct(fields)
}

// Merge combines handles into one that ends as soon as any of them ends.
// Closing the merged handle closes all of them.
func Merge(handles ...Handle) Handle {
	m := &merged{handles: handles, done: make(chan struct{})}
	for _, h := range handles {
		go m.watch(h)
	}
	return m
}

type merged struct {
	handles []Handle
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
}

func (m *merged) watch(h Handle) {
	select {
	case <-h.Done():
		m.finish(h.Err())
	case <-m.done:
	}
}

func (m *merged) finish(err error) {
	m.once.Do(func() {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *merged) Close() error {
	var firstErr error
	for _, h := range m.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.finish(nil)
	return firstErr
}

func (m *merged) Done() <-chan struct{} { return m.done }

func (m *merged) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

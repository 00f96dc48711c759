package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syntra-checkout/internal/services/notifications/stream"
)

type memoryPersistence struct {
	mu      sync.Mutex
	items   []Notification
	saves   int
	loadErr error
}

func (m *memoryPersistence) Load(ctx context.Context) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items, m.loadErr
}

func (m *memoryPersistence) Save(ctx context.Context, items []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
	m.saves++
	return nil
}

func (m *memoryPersistence) saved() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items
}

type fakeHandle struct {
	done chan struct{}
	once sync.Once
}

func (h *fakeHandle) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return nil }

type fakeStream struct {
	mu       sync.Mutex
	handlers map[string]stream.Handler
	failOn   string
}

func (f *fakeStream) Subscribe(ctx context.Context, topic string, onEvent stream.Handler) (stream.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == f.failOn {
		return nil, errors.New("subscribe refused")
	}
	if f.handlers == nil {
		f.handlers = map[string]stream.Handler{}
	}
	f.handlers[topic] = onEvent
	return &fakeHandle{done: make(chan struct{})}, nil
}

func event(t *testing.T, topic string, typ stream.EventType, row, old map[string]interface{}) stream.Event {
	t.Helper()
	e := stream.Event{Topic: topic, Type: typ}
	var err error
	e.Row, err = stream.NewRow(row)
	require.NoError(t, err)
	if old != nil {
		e.Old, err = stream.NewRow(old)
		require.NoError(t, err)
	}
	return e
}

func newTestWatcher(opts Options) (*Watcher, *memoryPersistence) {
	p := &memoryPersistence{}
	return NewWatcher(&fakeStream{}, p, opts, zap.NewNop()), p
}

func TestHandleEvent_OrderInsertAndStatusChange(t *testing.T) {
	w, p := newTestWatcher(Options{})

	w.HandleEvent(event(t, stream.TopicOrders, stream.Insert,
		map[string]interface{}{"id": "o1", "document_number": "POS-1", "total": "250.00", "status": "completed"}, nil))

	items := w.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, CategoryNewOrder, items[0].Category)
	assert.Contains(t, items[0].Message, "POS-1")
	assert.Contains(t, items[0].Message, "250.00")
	assert.False(t, items[0].Read)

	w.HandleEvent(event(t, stream.TopicOrders, stream.Update,
		map[string]interface{}{"id": "o1", "document_number": "POS-1", "status": "cancelled"},
		map[string]interface{}{"status": "completed"}))

	items = w.Notifications()
	require.Len(t, items, 1, "unread notification for the same order is replaced")
	assert.Equal(t, "Order POS-1 is now cancelled", items[0].Message)
	assert.Len(t, p.saved(), 1)
}

func TestHandleEvent_OrderUpdateWithoutStatusChangeIgnored(t *testing.T) {
	w, _ := newTestWatcher(Options{})

	w.HandleEvent(event(t, stream.TopicOrders, stream.Update,
		map[string]interface{}{"id": "o1", "status": "completed"},
		map[string]interface{}{"status": "completed"}))

	assert.Empty(t, w.Notifications())
}

func TestHandleEvent_StockThresholds(t *testing.T) {
	w, _ := newTestWatcher(Options{LowStockThreshold: 5})

	stock := func(prev, cur int) {
		w.HandleEvent(event(t, stream.TopicProducts, stream.Update,
			map[string]interface{}{"id": "p1", "name": "Espresso beans", "stock": cur},
			map[string]interface{}{"stock": prev}))
	}

	stock(20, 10)
	assert.Empty(t, w.Notifications(), "still above threshold")

	stock(10, 4)
	items := w.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, CategoryLowStock, items[0].Category)
	assert.Equal(t, "Espresso beans is running low (4 left)", items[0].Message)

	stock(4, 3)
	assert.Len(t, w.Notifications(), 1, "already below threshold")

	stock(3, 0)
	items = w.Notifications()
	require.Len(t, items, 1, "out of stock replaces the unread low stock notice")
	assert.Equal(t, CategoryOutOfStock, items[0].Category)

	stock(0, 0)
	assert.Len(t, w.Notifications(), 1)
}

func TestHandleEvent_ReadNotificationIsNotReplaced(t *testing.T) {
	w, _ := newTestWatcher(Options{LowStockThreshold: 5})

	w.HandleEvent(event(t, stream.TopicProducts, stream.Update,
		map[string]interface{}{"id": "p1", "stock": 2}, map[string]interface{}{"stock": 9}))
	require.Equal(t, 1, w.MarkAllAsRead())

	w.HandleEvent(event(t, stream.TopicProducts, stream.Update,
		map[string]interface{}{"id": "p1", "stock": 0}, map[string]interface{}{"stock": 2}))

	items := w.Notifications()
	require.Len(t, items, 2)
	assert.Equal(t, CategoryOutOfStock, items[0].Category)
	assert.Equal(t, 1, w.UnreadCount())
}

func TestHandleEvent_Registration(t *testing.T) {
	w, _ := newTestWatcher(Options{})

	w.HandleEvent(event(t, stream.TopicCustomers, stream.Insert,
		map[string]interface{}{"id": "c1", "email": "amina@example.com"}, nil))

	items := w.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, CategoryNewRegistration, items[0].Category)
	assert.Equal(t, "amina@example.com just registered", items[0].Message)
}

func TestHandleEvent_Milestone(t *testing.T) {
	w, _ := newTestWatcher(Options{MilestoneEvery: 3})

	for i := 1; i <= 3; i++ {
		w.HandleEvent(event(t, stream.TopicOrders, stream.Insert,
			map[string]interface{}{"id": fmt.Sprintf("o%d", i), "total": "10.00"}, nil))
	}

	items := w.Notifications()
	require.Len(t, items, 4)
	assert.Equal(t, CategoryMilestone, items[0].Category)
	assert.Equal(t, "3 orders received", items[0].Message)
}

func TestHistory_CappedMostRecentFirst(t *testing.T) {
	w, p := newTestWatcher(Options{})

	for i := 0; i < HistoryLimit+7; i++ {
		w.HandleEvent(event(t, stream.TopicCustomers, stream.Insert,
			map[string]interface{}{"id": fmt.Sprintf("c%d", i), "name": fmt.Sprintf("customer %d", i)}, nil))
	}

	items := w.Notifications()
	require.Len(t, items, HistoryLimit)
	assert.Equal(t, fmt.Sprintf("customer %d just registered", HistoryLimit+6), items[0].Message)
	assert.Equal(t, "customer 7 just registered", items[HistoryLimit-1].Message)
	assert.Len(t, p.saved(), HistoryLimit)
}

func TestMarkAsReadAndClear(t *testing.T) {
	w, p := newTestWatcher(Options{})
	w.HandleEvent(event(t, stream.TopicCustomers, stream.Insert, map[string]interface{}{"id": "c1"}, nil))
	w.HandleEvent(event(t, stream.TopicCustomers, stream.Insert, map[string]interface{}{"id": "c2"}, nil))

	id := w.Notifications()[1].ID
	require.NoError(t, w.MarkAsRead(id))
	assert.Equal(t, 1, w.UnreadCount())
	assert.True(t, p.saved()[1].Read)

	assert.ErrorIs(t, w.MarkAsRead("missing"), ErrNotificationNotFound)

	w.ClearAll()
	assert.Empty(t, w.Notifications())
	assert.Equal(t, 0, w.UnreadCount())
	assert.NotNil(t, p.saved())
	assert.Empty(t, p.saved())
}

func TestRestore(t *testing.T) {
	p := &memoryPersistence{items: []Notification{{ID: "n1", Category: CategoryLowStock}, {ID: "n2", Read: true}}}
	w := NewWatcher(&fakeStream{}, p, Options{}, zap.NewNop())

	require.NoError(t, w.Restore(context.Background()))

	assert.Len(t, w.Notifications(), 2)
	assert.Equal(t, 1, w.UnreadCount())

	p.loadErr = errors.New("redis down")
	assert.Error(t, w.Restore(context.Background()))
}

func TestConnect_SubscribesEveryTopic(t *testing.T) {
	fs := &fakeStream{}
	w := NewWatcher(fs, &memoryPersistence{}, Options{}, zap.NewNop())

	sess, err := w.Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	fs.mu.Lock()
	assert.Len(t, fs.handlers, len(Topics))
	handler := fs.handlers[stream.TopicCustomers]
	fs.mu.Unlock()

	handler(event(t, stream.TopicCustomers, stream.Insert, map[string]interface{}{"id": "c9", "name": "Wanjiru"}, nil))
	assert.Equal(t, 1, w.UnreadCount())
}

func TestConnect_FailureClosesOpenedHandles(t *testing.T) {
	fs := &fakeStream{failOn: stream.TopicCustomers}
	w := NewWatcher(fs, &memoryPersistence{}, Options{}, zap.NewNop())

	sess, err := w.Connect(context.Background())

	assert.Nil(t, sess)
	assert.Error(t, err)
}

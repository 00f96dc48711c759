package notifications

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"syntra-checkout/internal/metrics"
	"syntra-checkout/internal/services/notifications/stream"
	"syntra-checkout/internal/services/notifications/supervisor"
)

const (
	DefaultLowStockThreshold = 5
	DefaultMilestoneEvery    = 100
	saveTimeout              = 3 * time.Second
)

var ErrNotificationNotFound = errors.New("notification not found")

// Topics the watcher subscribes to.
var Topics = []string{stream.TopicOrders, stream.TopicProducts, stream.TopicCustomers}

type Options struct {
	LowStockThreshold int
	MilestoneEvery    int
	HistoryLimit      int
}

type Watcher struct {
	stream      stream.Stream
	persistence Persistence
	opts        Options
	log         *zap.Logger
	now         func() time.Time

	// persistMu orders mutations with their saves.
	persistMu  sync.Mutex
	mu         sync.RWMutex
	history    *History
	orderCount int
	conn       supervisor.Status
}

func NewWatcher(st stream.Stream, persistence Persistence, opts Options, log *zap.Logger) *Watcher {
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.MilestoneEvery <= 0 {
		opts.MilestoneEvery = DefaultMilestoneEvery
	}
	return &Watcher{
		stream:      st,
		persistence: persistence,
		opts:        opts,
		log:         log,
		now:         time.Now,
		history:     NewHistory(opts.HistoryLimit),
		conn:        supervisor.Status{State: supervisor.StateDisconnected},
	}
}

// Restore loads the persisted history.
func (w *Watcher) Restore(ctx context.Context) error {
	items, err := w.persistence.Load(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.history.Replace(items)
	w.mu.Unlock()
	return nil
}

// Connect subscribes to every topic. It is the supervisor's connect function:
// the returned session ends as soon as any one subscription drops.
func (w *Watcher) Connect(ctx context.Context) (supervisor.Session, error) {
	handles := make([]stream.Handle, 0, len(Topics))
	for _, topic := range Topics {
		h, err := w.stream.Subscribe(ctx, topic, w.HandleEvent)
		if err != nil {
			for _, opened := range handles {
				opened.Close()
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return stream.Merge(handles...), nil
}

// SetConnectionState records the supervisor's latest status.
func (w *Watcher) SetConnectionState(st supervisor.Status) {
	w.mu.Lock()
	w.conn = st
	w.mu.Unlock()
}

func (w *Watcher) ConnectionState() supervisor.Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn
}

// HandleEvent maps one change event to zero or more notifications.
func (w *Watcher) HandleEvent(e stream.Event) {
	var out []Notification

	switch e.Topic {
	case stream.TopicOrders:
		out = w.orderNotifications(e)
	case stream.TopicProducts:
		if n, ok := w.stockNotification(e); ok {
			out = append(out, n)
		}
	case stream.TopicCustomers:
		if e.Type == stream.Insert {
			out = append(out, w.registrationNotification(e))
		}
	default:
		w.log.Debug("ignoring event on unknown topic", zap.String("topic", e.Topic))
	}

	if len(out) == 0 {
		return
	}

	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	w.mu.Lock()
	for _, n := range out {
		w.history.Push(n)
		metrics.RecordNotification(string(n.Category))
	}
	snapshot := w.history.Items()
	w.mu.Unlock()

	w.save(snapshot)
}

func (w *Watcher) orderNotifications(e stream.Event) []Notification {
	id := field(e.Row, "id")
	doc := field(e.Row, "document_number")
	if doc == "" {
		doc = id
	}
	status := field(e.Row, "status")
	payload := rowMap(e.Row)

	switch e.Type {
	case stream.Insert:
		out := []Notification{w.newNotification(CategoryNewOrder, "order:"+id, "New order",
			fmt.Sprintf("Order %s placed for %s", doc, field(e.Row, "total")), payload)}

		w.mu.Lock()
		w.orderCount++
		count := w.orderCount
		w.mu.Unlock()
		if count%w.opts.MilestoneEvery == 0 {
			out = append(out, w.newNotification(CategoryMilestone, "milestone:"+strconv.Itoa(count), "Milestone reached",
				fmt.Sprintf("%d orders received", count), map[string]interface{}{"orders": count}))
		}
		return out
	case stream.Update:
		if status == "" || (e.Old != nil && field(e.Old, "status") == status) {
			return nil
		}
		return []Notification{w.newNotification(CategoryNewOrder, "order:"+id, "Order updated",
			fmt.Sprintf("Order %s is now %s", doc, status), payload)}
	}
	return nil
}

// stockNotification fires when stock crosses into the low band or hits zero.
// Without an old row any low reading counts as a crossing.
func (w *Watcher) stockNotification(e stream.Event) (Notification, bool) {
	if e.Type != stream.Update {
		return Notification{}, false
	}
	current, ok := intField(e.Row, "stock")
	if !ok {
		return Notification{}, false
	}
	previous, hadPrevious := intField(e.Old, "stock")

	id := field(e.Row, "id")
	key := "stock:" + id
	if variant := field(e.Row, "variant_id"); variant != "" {
		key += ":" + variant
	}
	name := field(e.Row, "name")
	if name == "" {
		name = id
	}
	payload := rowMap(e.Row)
	threshold := w.opts.LowStockThreshold

	switch {
	case current <= 0 && (!hadPrevious || previous > 0):
		return w.newNotification(CategoryOutOfStock, key, "Out of stock",
			fmt.Sprintf("%s is out of stock", name), payload), true
	case current > 0 && current <= threshold && (!hadPrevious || previous > threshold):
		return w.newNotification(CategoryLowStock, key, "Low stock",
			fmt.Sprintf("%s is running low (%d left)", name, current), payload), true
	}
	return Notification{}, false
}

func (w *Watcher) registrationNotification(e stream.Event) Notification {
	id := field(e.Row, "id")
	name := field(e.Row, "name")
	if name == "" {
		name = field(e.Row, "email")
	}
	return w.newNotification(CategoryNewRegistration, "customer:"+id, "New registration",
		fmt.Sprintf("%s just registered", name), rowMap(e.Row))
}

func (w *Watcher) newNotification(cat Category, key, title, message string, payload map[string]interface{}) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Key:       key,
		Category:  cat,
		Title:     title,
		Message:   message,
		Payload:   payload,
		CreatedAt: w.now(),
	}
}

func (w *Watcher) Notifications() []Notification {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.history.Items()
}

func (w *Watcher) UnreadCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.history.Unread()
}

func (w *Watcher) MarkAsRead(id string) error {
	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	w.mu.Lock()
	if !w.history.Contains(id) {
		w.mu.Unlock()
		return ErrNotificationNotFound
	}
	changed := w.history.MarkRead(id)
	snapshot := w.history.Items()
	w.mu.Unlock()

	if changed {
		w.save(snapshot)
	}
	return nil
}

func (w *Watcher) MarkAllAsRead() int {
	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	w.mu.Lock()
	n := w.history.MarkAllRead()
	snapshot := w.history.Items()
	w.mu.Unlock()

	if n > 0 {
		w.save(snapshot)
	}
	return n
}

func (w *Watcher) ClearAll() {
	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	w.mu.Lock()
	w.history.Clear()
	w.mu.Unlock()

	w.save(nil)
}

func (w *Watcher) save(items []Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if items == nil {
		items = []Notification{}
	}
	if err := w.persistence.Save(ctx, items); err != nil {
		w.log.Warn("failed to persist notifications", zap.Error(err))
	}
}

func field(s *structpb.Struct, name string) string {
	v, ok := s.GetFields()[name]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	}
	return ""
}

func intField(s *structpb.Struct, name string) (int, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int(k.NumberValue), true
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(k.StringValue)
		return n, err == nil
	}
	return 0, false
}

func rowMap(s *structpb.Struct) map[string]interface{} {
	if s == nil {
		return nil
	}
	return s.AsMap()
}

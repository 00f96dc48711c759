// Package notifications turns order, stock and registration change events
// into a capped, de-duplicated list of staff notifications.
package notifications

import "time"

type Category string

const (
	CategoryNewOrder        Category = "new_order"
	CategoryLowStock        Category = "low_stock"
	CategoryOutOfStock      Category = "out_of_stock"
	CategoryNewRegistration Category = "new_registration"
	CategoryMilestone       Category = "milestone"
)

// HistoryLimit bounds the retained notifications.
const HistoryLimit = 50

type Notification struct {
	ID        string                 `json:"id"`
	Key       string                 `json:"key"`
	Category  Category               `json:"category"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
}

// History is most-recent-first. It is not safe for concurrent use.
type History struct {
	items []Notification
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return &History{limit: limit}
}

// Push prepends n. An unread notification with the same key is dropped first
// so a repeated condition surfaces once, at the front.
func (h *History) Push(n Notification) {
	if n.Key != "" {
		for i, existing := range h.items {
			if existing.Key == n.Key && !existing.Read {
				h.items = append(h.items[:i], h.items[i+1:]...)
				break
			}
		}
	}
	h.items = append([]Notification{n}, h.items...)
	if len(h.items) > h.limit {
		h.items = h.items[:h.limit]
	}
}

// Replace swaps in a restored list, trimmed to the limit.
func (h *History) Replace(items []Notification) {
	if len(items) > h.limit {
		items = items[:h.limit]
	}
	h.items = append([]Notification(nil), items...)
}

func (h *History) MarkRead(id string) bool {
	for i := range h.items {
		if h.items[i].ID == id {
			changed := !h.items[i].Read
			h.items[i].Read = true
			return changed
		}
	}
	return false
}

func (h *History) MarkAllRead() int {
	n := 0
	for i := range h.items {
		if !h.items[i].Read {
			h.items[i].Read = true
			n++
		}
	}
	return n
}

func (h *History) Clear() {
	h.items = nil
}

func (h *History) Contains(id string) bool {
	for _, n := range h.items {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (h *History) Items() []Notification {
	out := make([]Notification, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Unread() int {
	n := 0
	for _, item := range h.items {
		if !item.Read {
			n++
		}
	}
	return n
}

package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"syntra-checkout/internal/services/pos"
	"syntra-checkout/internal/services/pos/cart"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// Committer is satisfied by *Orchestrator.
type Committer interface {
	Commit(ctx context.Context, snap cart.Snapshot, req CommitRequest) (*pos.Receipt, error)
}

// Session is one register's checkout. Cart edits and commits are serialized
// on the session so a commit always sees the cart it clears.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	cart       *cart.Cart
	customerID string
	catalog    pos.ProductReader
	committer  Committer

	// lastSeen is unix nanoseconds of the last activity. It is read without
	// mu so a long commit never blocks the idle sweep.
	lastSeen atomic.Int64
}

type SessionView struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id,omitempty"`
	Lines      []cart.Line     `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func NewSession(catalog pos.ProductReader, committer Committer) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		cart:      cart.New(),
		catalog:   catalog,
		committer: committer,
	}
	s.lastSeen.Store(s.CreatedAt.UnixNano())
	return s
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// AddItem loads the product and stages quantity units of it.
func (s *Session) AddItem(ctx context.Context, productID, variantID string, quantity int) (cart.Line, error) {
	if productID == "" {
		return cart.Line{}, pos.NewValidationError("product_id", "required")
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return cart.Line{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := s.cart.Add(product, variantID, quantity)
	if err == nil {
		s.touch()
	}
	return line, err
}

func (s *Session) UpdateQuantity(productID, variantID string, delta int) (cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := s.cart.SetQuantity(productID, variantID, delta)
	if err == nil {
		s.touch()
	}
	return line, err
}

func (s *Session) RemoveItem(productID, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.Remove(productID, variantID); err != nil {
		return err
	}
	s.touch()
	return nil
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Clear()
	s.touch()
}

func (s *Session) SetCustomer(customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customerID = customerID
	s.touch()
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		ID:         s.ID,
		CustomerID: s.customerID,
		Lines:      s.cart.Lines(),
		Total:      s.cart.Total(),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.lastActive(),
	}
}

// Commit submits the cart. The cart is cleared only on success; on any
// error it is left exactly as it was.
func (s *Session) Commit(ctx context.Context, req CommitRequest) (*pos.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if req.CustomerID == "" {
		req.CustomerID = s.customerID
	}
	receipt, err := s.committer.Commit(ctx, s.cart.Snapshot(), req)
	if err != nil {
		return nil, err
	}
	s.cart.Clear()
	s.customerID = ""
	s.touch()
	return receipt, nil
}

func (s *Session) lastActive() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Manager owns the open sessions.
type Manager struct {
	catalog   pos.ProductReader
	committer Committer

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(catalog pos.ProductReader, committer Committer) *Manager {
	return &Manager{
		catalog:   catalog,
		committer: committer,
		sessions:  make(map[string]*Session),
	}
}

func (m *Manager) Create() *Session {
	s := NewSession(m.catalog, m.committer)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []SessionView {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.Before(views[j].CreatedAt) })
	return views
}

// Expire drops sessions idle for longer than maxIdle and reports how many
// were removed. A session touched between the scan and the delete is kept.
func (m *Manager) Expire(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.RLock()
	idle := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.lastActive().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()
	if len(idle) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range idle {
		if cur, ok := m.sessions[s.ID]; ok && cur == s && s.lastActive().Before(cutoff) {
			delete(m.sessions, s.ID)
			n++
		}
	}
	return n
}

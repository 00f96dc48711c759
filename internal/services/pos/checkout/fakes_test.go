package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"syntra-checkout/internal/services/pos"
	"syntra-checkout/internal/services/pos/discount"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory pos.Store.
type memStore struct {
	mu        sync.Mutex
	products  map[string]*pos.Product
	orders    map[string]pos.Order
	lines     []pos.OrderLine
	payments  []pos.Payment
	usages    []pos.DiscountUsage
	tokens    map[string]bool
	decrement int
	restored  int

	// fail makes the named operation return errInjected.
	fail map[string]bool
	// shrink removes units just before a decrement, as a concurrent sale would.
	shrink map[string]int
}

func newMemStore(products ...pos.Product) *memStore {
	s := &memStore{
		products: map[string]*pos.Product{},
		orders:   map[string]pos.Order{},
		tokens:   map[string]bool{},
		fail:     map[string]bool{},
		shrink:   map[string]int{},
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}
	return s
}

func (s *memStore) failing(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[op]
}

func (s *memStore) GetProduct(ctx context.Context, id string) (pos.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return pos.Product{}, fmt.Errorf("product %s: %w", id, pos.ErrNotFound)
	}
	out := *p
	out.Variants = append([]pos.Variant(nil), p.Variants...)
	return out, nil
}

func (s *memStore) stockRef(line pos.StockLine) (*int, error) {
	p, ok := s.products[line.ProductID]
	if !ok {
		return nil, pos.ErrNotFound
	}
	if line.VariantID == "" {
		return &p.Stock, nil
	}
	for i := range p.Variants {
		if p.Variants[i].ID == line.VariantID {
			return &p.Variants[i].Stock, nil
		}
	}
	return nil, pos.ErrNotFound
}

func (s *memStore) DecrementStock(ctx context.Context, ref string, line pos.StockLine) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock, err := s.stockRef(line)
	if err != nil {
		return 0, err
	}
	if n := s.shrink[line.ProductID]; n > 0 {
		*stock -= n
		delete(s.shrink, line.ProductID)
	}
	if *stock < line.Quantity {
		return 0, &pos.InsufficientStockError{ProductID: line.ProductID, VariantID: line.VariantID, Requested: line.Quantity}
	}
	*stock -= line.Quantity
	s.decrement++
	return *stock, nil
}

func (s *memStore) RestoreStock(ctx context.Context, ref string, line pos.StockLine) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail["RestoreStock"] {
		return 0, errInjected
	}
	stock, err := s.stockRef(line)
	if err != nil {
		return 0, err
	}
	*stock += line.Quantity
	s.restored++
	return *stock, nil
}

func (s *memStore) CreateOrder(ctx context.Context, order pos.Order) (pos.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail["CreateOrder"] {
		return pos.Order{}, errInjected
	}
	if s.tokens[order.IdempotencyToken] {
		return pos.Order{}, pos.ErrDuplicateToken
	}
	s.tokens[order.IdempotencyToken] = true
	s.orders[order.ID] = order
	return order, nil
}

func (s *memStore) CreateOrderLines(ctx context.Context, lines []pos.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail["CreateOrderLines"] {
		return errInjected
	}
	s.lines = append(s.lines, lines...)
	return nil
}

func (s *memStore) CreatePayment(ctx context.Context, payment pos.Payment) (pos.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail["CreatePayment"] {
		return pos.Payment{}, errInjected
	}
	s.payments = append(s.payments, payment)
	return payment, nil
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, orderID string, status pos.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail["UpdateOrderStatus:"+string(status)] {
		return errInjected
	}
	o, ok := s.orders[orderID]
	if !ok {
		return pos.ErrNotFound
	}
	o.Status = status
	s.orders[orderID] = o
	return nil
}

func (s *memStore) RecordDiscountUsage(ctx context.Context, usage pos.DiscountUsage, rule pos.DiscountRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail["RecordDiscountUsage"] {
		return errInjected
	}
	if rule.MaxUsagePerCustomer != nil && usage.CustomerID != "" &&
		s.countLocked(usage.CampaignID, usage.CustomerID) >= *rule.MaxUsagePerCustomer {
		return pos.ErrUsageCeilingReached
	}
	if rule.MaxTotalUsage != nil && s.countLocked(usage.CampaignID, "") >= *rule.MaxTotalUsage {
		return pos.ErrUsageCeilingReached
	}
	s.usages = append(s.usages, usage)
	return nil
}

func (s *memStore) QueryUsageCount(ctx context.Context, campaignID, customerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(campaignID, customerID), nil
}

func (s *memStore) countLocked(campaignID, customerID string) int {
	n := 0
	for _, u := range s.usages {
		if u.CampaignID == campaignID && (customerID == "" || u.CustomerID == customerID) {
			n++
		}
	}
	return n
}

func (s *memStore) stock(productID, variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, err := s.stockRef(pos.StockLine{ProductID: productID, VariantID: variantID})
	if err != nil {
		return -1
	}
	return *ref
}

func (s *memStore) orderList() []pos.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pos.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

func (s *memStore) decrements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrement
}

// memIdempotency is an in-memory pos.IdempotencyStore.
type memIdempotency struct {
	mu       sync.Mutex
	pending  map[string]bool
	receipts map[string]pos.Receipt
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{pending: map[string]bool{}, receipts: map[string]pos.Receipt{}}
}

func (m *memIdempotency) Lookup(ctx context.Context, token string) (*pos.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.receipts[token]; ok {
		return &r, nil
	}
	if m.pending[token] {
		return nil, pos.ErrCommitInProgress
	}
	return nil, pos.ErrNotFound
}

func (m *memIdempotency) Claim(ctx context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[token]; ok {
		return pos.ErrDuplicateToken
	}
	if m.pending[token] {
		return pos.ErrCommitInProgress
	}
	m.pending[token] = true
	return nil
}

func (m *memIdempotency) Complete(ctx context.Context, token string, receipt pos.Receipt, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, token)
	m.receipts[token] = receipt
	return nil
}

func (m *memIdempotency) Release(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, token)
	return nil
}

// memEvents records published events.
type memEvents struct {
	mu     sync.Mutex
	orders []pos.Order
	stock  []pos.StockChange
}

func (m *memEvents) PublishOrder(ctx context.Context, order pos.Order, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	return nil
}

func (m *memEvents) PublishStock(ctx context.Context, change pos.StockChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock = append(m.stock, change)
	return nil
}

// ruleSource serves rules keyed by product.
type ruleSource struct {
	mu    sync.Mutex
	rules map[string][]pos.DiscountRule
}

func (r *ruleSource) QueryActiveDiscount(ctx context.Context, productID string, quantity int, customerID string) ([]pos.DiscountRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rules[productID], nil
}

func (r *ruleSource) add(rule pos.DiscountRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rules == nil {
		r.rules = map[string][]pos.DiscountRule{}
	}
	r.rules[rule.ProductID] = append(r.rules[rule.ProductID], rule)
}

var fixedNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

type harness struct {
	store  *memStore
	idem   *memIdempotency
	events *memEvents
	rules  *ruleSource
	orch   *Orchestrator
}

func newHarness(products ...pos.Product) *harness {
	h := &harness{
		store:  newMemStore(products...),
		idem:   newMemIdempotency(),
		events: &memEvents{},
		rules:  &ruleSource{},
	}
	log := zap.NewNop()
	guard := discount.NewGuard(h.store, log)
	evaluator := discount.NewEvaluator(h.rules, guard, h.store, log, discount.WithClock(func() time.Time { return fixedNow }))
	h.orch = NewOrchestrator(h.store, evaluator, h.idem, h.events, Options{Now: func() time.Time { return fixedNow }}, log)
	return h
}

func product(id, name, price string, stock int) pos.Product {
	return pos.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), Stock: stock}
}

func rule(id, productID string, kind pos.DiscountKind, value string) pos.DiscountRule {
	return pos.DiscountRule{
		ID:        id,
		ProductID: productID,
		Value:     decimal.RequireFromString(value),
		Campaign: pos.DiscountCampaign{
			ID:     "camp-" + id,
			Name:   "Campaign " + id,
			Kind:   kind,
			Status: pos.CampaignActive,
		},
	}
}

func intPtr(n int) *int { return &n }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

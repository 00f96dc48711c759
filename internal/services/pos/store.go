package pos

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (Product, error)
}

// DiscountQuerier returns candidate rules for a product and quantity. Rules
// carry their campaign so the evaluator can re-check eligibility.
type DiscountQuerier interface {
	QueryActiveDiscount(ctx context.Context, productID string, quantity int, customerID string) ([]DiscountRule, error)
}

// UsageCounter counts recorded usages of a campaign. An empty customerID
// counts across all customers.
type UsageCounter interface {
	QueryUsageCount(ctx context.Context, campaignID, customerID string) (int, error)
}

// Store is the Catalog & Ledger boundary used by the checkout orchestrator.
//
// DecrementStock must be an atomic "decrement if sufficient" returning the
// remaining stock, or an error wrapping ErrInsufficientStock when the row
// cannot cover the quantity.
// RecordDiscountUsage must reject, with ErrUsageCeilingReached, a usage that
// would exceed the rule's ceilings at the moment of the write.
type Store interface {
	ProductReader
	UsageCounter
	DecrementStock(ctx context.Context, ref string, line StockLine) (int, error)
	RestoreStock(ctx context.Context, ref string, line StockLine) (int, error)
	CreateOrder(ctx context.Context, order Order) (Order, error)
	CreateOrderLines(ctx context.Context, lines []OrderLine) error
	CreatePayment(ctx context.Context, payment Payment) (Payment, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
	RecordDiscountUsage(ctx context.Context, usage DiscountUsage, rule DiscountRule) error
}

// IdempotencyStore remembers commit tokens so a resubmitted token never
// decrements stock twice.
type IdempotencyStore interface {
	// Lookup returns the receipt of a completed commit. It fails with
	// ErrNotFound for an unknown token and ErrCommitInProgress for one that
	// is claimed but not completed.
	Lookup(ctx context.Context, token string) (*Receipt, error)
	// Claim marks the token in flight. It fails with ErrCommitInProgress when
	// another attempt holds it and ErrDuplicateToken when it already completed.
	Claim(ctx context.Context, token string, ttl time.Duration) error
	Complete(ctx context.Context, token string, receipt Receipt, ttl time.Duration) error
	Release(ctx context.Context, token string) error
}

// StockChange describes one committed stock movement.
type StockChange struct {
	ProductID string
	VariantID string
	Name      string
	Previous  int
	Current   int
}

// EventPublisher announces committed state changes to the event stream.
type EventPublisher interface {
	PublishOrder(ctx context.Context, order Order, eventType string) error
	PublishStock(ctx context.Context, change StockChange) error
}

type ReceiptLine struct {
	ProductID        string          `json:"product_id"`
	VariantID        string          `json:"variant_id,omitempty"`
	Name             string          `json:"name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ChargedUnitPrice decimal.Decimal `json:"charged_unit_price"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	FreeUnits        int             `json:"free_units,omitempty"`
	LineTotal        decimal.Decimal `json:"line_total"`
}

type AppliedDiscount struct {
	CampaignID string          `json:"campaign_id"`
	RuleID     string          `json:"rule_id"`
	ProductID  string          `json:"product_id"`
	Kind       DiscountKind    `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Quantity   int             `json:"quantity"`
}

type Receipt struct {
	OrderID        string            `json:"order_id"`
	DocumentNumber string            `json:"document_number"`
	Token          string            `json:"token"`
	Lines          []ReceiptLine     `json:"lines"`
	Discounts      []AppliedDiscount `json:"discounts"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	DiscountTotal  decimal.Decimal   `json:"discount_total"`
	Total          decimal.Decimal   `json:"total"`
	PaymentMethod  PaymentMethod     `json:"payment_method"`
	Tendered       decimal.Decimal   `json:"tendered"`
	ChangeDue      decimal.Decimal   `json:"change_due"`
	CashierID      string            `json:"cashier_id,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Degraded       bool              `json:"degraded"`
	UsageErrors    []string          `json:"usage_errors,omitempty"`
	Replayed       bool              `json:"replayed"`
	IssuedAt       time.Time         `json:"issued_at"`
}

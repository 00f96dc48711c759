package pos

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
	EventStockUpdated = "stock.updated"
)

// Product is the catalog view the core needs. Stock is never negative.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Stock    int
	Variants []Variant
}

type Variant struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Variant returns the variant with the given id. An empty id resolves to the
// product itself, expressed as a Variant with an empty ID.
func (p Product) Variant(variantID string) (Variant, bool) {
	if variantID == "" {
		return Variant{Name: p.Name, Price: p.Price, Stock: p.Stock}, true
	}
	for _, v := range p.Variants {
		if v.ID == variantID {
			return v, true
		}
	}
	return Variant{}, false
}

// AvailableStock is the stock bound for a product or one of its variants.
func (p Product) AvailableStock(variantID string) int {
	v, ok := p.Variant(variantID)
	if !ok {
		return 0
	}
	return v.Stock
}

type DiscountKind string

const (
	DiscountPercentage  DiscountKind = "percentage"
	DiscountFixedAmount DiscountKind = "fixed_amount"
	DiscountBuyXGetY    DiscountKind = "buy_x_get_y"
	DiscountBundle      DiscountKind = "bundle"
)

func (k DiscountKind) Valid() bool {
	switch k {
	case DiscountPercentage, DiscountFixedAmount, DiscountBuyXGetY, DiscountBundle:
		return true
	}
	return false
}

type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignInactive CampaignStatus = "inactive"
	CampaignExpired  CampaignStatus = "expired"
)

type DiscountCampaign struct {
	ID       string
	Name     string
	Kind     DiscountKind
	Status   CampaignStatus
	StartsAt time.Time
	EndsAt   time.Time
}

// EligibleAt reports whether the campaign is active and now lies in its window.
func (c DiscountCampaign) EligibleAt(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}
	if !c.StartsAt.IsZero() && now.Before(c.StartsAt) {
		return false
	}
	if !c.EndsAt.IsZero() && now.After(c.EndsAt) {
		return false
	}
	return true
}

type DiscountRule struct {
	ID                  string
	Campaign            DiscountCampaign
	ProductID           string
	Value               decimal.Decimal
	MinQuantity         int
	MaxQuantity         *int
	BuyQuantity         int
	GetQuantity         int
	MaxUsagePerCustomer *int
	MaxTotalUsage       *int
}

// Admits reports whether quantity falls within the rule's qualifying bounds.
func (r DiscountRule) Admits(quantity int) bool {
	if quantity < r.MinQuantity {
		return false
	}
	if r.MaxQuantity != nil && quantity > *r.MaxQuantity {
		return false
	}
	return true
}

func (r DiscountRule) HasUsageCeiling() bool {
	return r.MaxUsagePerCustomer != nil || r.MaxTotalUsage != nil
}

type DiscountUsage struct {
	ID         string
	CampaignID string
	RuleID     string
	OrderID    string
	CustomerID string
	Amount     decimal.Decimal
	Quantity   int
	CreatedAt  time.Time
}

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

type Order struct {
	ID               string
	DocumentNumber   string
	IdempotencyToken string
	Status           OrderStatus
	Subtotal         decimal.Decimal
	DiscountTotal    decimal.Decimal
	Total            decimal.Decimal
	CustomerID       string
	CashierID        string
	CreatedAt        time.Time
}

// OrderLine is frozen at commit. LineTotal always equals
// ChargedUnitPrice x (Quantity - FreeUnits).
type OrderLine struct {
	OrderID          string
	ProductID        string
	VariantID        string
	Name             string
	Quantity         int
	UnitPrice        decimal.Decimal
	ChargedUnitPrice decimal.Decimal
	FreeUnits        int
	DiscountAmount   decimal.Decimal
	LineTotal        decimal.Decimal
	CampaignID       string
	RuleID           string
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentMpesa PaymentMethod = "mpesa"
	PaymentCard  PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentMpesa, PaymentCard:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
)

type Payment struct {
	ID           string
	OrderID      string
	Amount       decimal.Decimal
	Method       PaymentMethod
	Status       PaymentStatus
	Tendered     decimal.Decimal
	ChangeDue    decimal.Decimal
	AuthorizedBy string
	CreatedAt    time.Time
}

// StockLine identifies a quantity of one product (or variant) to move.
type StockLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

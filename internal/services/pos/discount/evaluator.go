// Package discount picks the single best applicable discount for a product
// and quantity, and computes its monetary effect.
package discount

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"syntra-checkout/internal/metrics"
	"syntra-checkout/internal/services/pos"
)

var hundred = decimal.NewFromInt(100)

// Source supplies candidate rules. Exactly one source is active per deployment.
type Source interface {
	pos.DiscountQuerier
}

type UsageChecker interface {
	IsUsageAllowed(ctx context.Context, rule pos.DiscountRule, customerID string) bool
}

// Result is the monetary effect of one rule on one line. Money is rounded to
// two places.
type Result struct {
	CampaignID   string           `json:"campaign_id"`
	CampaignName string           `json:"campaign_name"`
	RuleID       string           `json:"rule_id"`
	Kind         pos.DiscountKind `json:"kind"`
	Value        decimal.Decimal  `json:"value"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	FinalPrice   decimal.Decimal  `json:"final_price"`
	Savings      decimal.Decimal  `json:"savings"`
	BuyQuantity  int              `json:"buy_quantity,omitempty"`
	GetQuantity  int              `json:"get_quantity,omitempty"`
	FreeUnits    int              `json:"free_units,omitempty"`
	LineSavings  decimal.Decimal  `json:"line_savings"`

	Rule pos.DiscountRule `json:"-"`
}

// ReducesPrice is false for buy-x-get-y, which grants free units instead.
func (r *Result) ReducesPrice() bool {
	return r.Kind != pos.DiscountBuyXGetY
}

type Evaluator struct {
	source   Source
	guard    UsageChecker
	products pos.ProductReader
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func NewEvaluator(source Source, guard UsageChecker, products pos.ProductReader, log *zap.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		source:   source,
		guard:    guard,
		products: products,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate prices quantity units of a product at its catalog price. A nil
// result with a nil error means no discount applies.
func (e *Evaluator) Evaluate(ctx context.Context, productID string, quantity int, customerID string) (*Result, error) {
	if quantity < 1 {
		return nil, pos.NewValidationError("quantity", "must be at least 1")
	}
	product, err := e.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}
	return e.EvaluatePrice(ctx, productID, product.Price, quantity, customerID)
}

// EvaluatePrice is Evaluate with an explicit unit price, used for variants.
func (e *Evaluator) EvaluatePrice(ctx context.Context, productID string, unitPrice decimal.Decimal, quantity int, customerID string) (*Result, error) {
	if quantity < 1 {
		return nil, pos.NewValidationError("quantity", "must be at least 1")
	}

	candidates, err := e.source.QueryActiveDiscount(ctx, productID, quantity, customerID)
	if err != nil {
		metrics.RecordDiscountEvaluation("error")
		return nil, fmt.Errorf("failed to query discounts for product %s: %w", productID, err)
	}

	rule, ok := Select(candidates, productID, quantity, e.now())
	if !ok {
		metrics.RecordDiscountEvaluation("none")
		return nil, nil
	}

	if rule.HasUsageCeiling() && !e.guard.IsUsageAllowed(ctx, rule, customerID) {
		metrics.RecordDiscountEvaluation("withheld")
		return nil, nil
	}

	res := Apply(rule, unitPrice, quantity)
	metrics.RecordDiscountEvaluation("applied")
	e.log.Debug("discount applied",
		zap.String("product_id", productID),
		zap.String("campaign_id", res.CampaignID),
		zap.String("rule_id", res.RuleID),
		zap.String("line_savings", res.LineSavings.StringFixed(2)),
	)
	return res, nil
}

// Select filters candidates down to the rules applicable at now and returns
// the one whose campaign ends first. Ties fall back to campaign ID, then rule
// ID. Campaigns without an end date sort last.
func Select(candidates []pos.DiscountRule, productID string, quantity int, now time.Time) (pos.DiscountRule, bool) {
	applicable := make([]pos.DiscountRule, 0, len(candidates))
	for _, r := range candidates {
		if r.ProductID != productID || !r.Campaign.Kind.Valid() {
			continue
		}
		if !r.Campaign.EligibleAt(now) || !r.Admits(quantity) {
			continue
		}
		applicable = append(applicable, r)
	}
	if len(applicable) == 0 {
		return pos.DiscountRule{}, false
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i].Campaign, applicable[j].Campaign
		if !a.EndsAt.Equal(b.EndsAt) {
			if a.EndsAt.IsZero() {
				return false
			}
			if b.EndsAt.IsZero() {
				return true
			}
			return a.EndsAt.Before(b.EndsAt)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return applicable[i].ID < applicable[j].ID
	})
	return applicable[0], true
}

// Apply computes the effect of rule on quantity units at unitPrice.
func Apply(rule pos.DiscountRule, unitPrice decimal.Decimal, quantity int) *Result {
	res := &Result{
		CampaignID:   rule.Campaign.ID,
		CampaignName: rule.Campaign.Name,
		RuleID:       rule.ID,
		Kind:         rule.Campaign.Kind,
		Value:        rule.Value,
		Quantity:     quantity,
		UnitPrice:    unitPrice.Round(2),
		FinalPrice:   unitPrice.Round(2),
		Savings:      decimal.Zero,
		LineSavings:  decimal.Zero,
		Rule:         rule,
	}
	qty := decimal.NewFromInt(int64(quantity))

	switch rule.Campaign.Kind {
	case pos.DiscountPercentage, pos.DiscountBundle:
		pct := clamp(rule.Value, decimal.Zero, hundred)
		res.FinalPrice = unitPrice.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred))).Round(2)
	case pos.DiscountFixedAmount:
		off := decimal.Max(decimal.Zero, rule.Value)
		res.FinalPrice = decimal.Max(decimal.Zero, unitPrice.Sub(off)).Round(2)
	case pos.DiscountBuyXGetY:
		res.BuyQuantity = rule.BuyQuantity
		res.GetQuantity = rule.GetQuantity
		res.FreeUnits = FreeUnits(quantity, rule.BuyQuantity, rule.GetQuantity)
		res.LineSavings = res.UnitPrice.Mul(decimal.NewFromInt(int64(res.FreeUnits)))
		return res
	}

	res.Savings = res.UnitPrice.Sub(res.FinalPrice)
	res.LineSavings = res.Savings.Mul(qty)
	return res
}

// FreeUnits is the number of units granted free when every group of buy+get
// units earns get of them.
func FreeUnits(quantity, buy, get int) int {
	if buy < 1 || get < 1 || quantity < 1 {
		return 0
	}
	return (quantity / (buy + get)) * get
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

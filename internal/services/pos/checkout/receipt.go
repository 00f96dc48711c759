package checkout

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"syntra-checkout/internal/services/pos"
)

// DocumentNumber formats the customer-facing order number, e.g.
// POS-20261018-3F2A9C1B.
func DocumentNumber(at time.Time, orderID string) string {
	suffix := strings.ReplaceAll(orderID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("POS-%s-%s", at.Format("20060102"), strings.ToUpper(suffix))
}

func buildReceipt(order pos.Order, lines []pricedLine, req CommitRequest, tendered, change decimal.Decimal) *pos.Receipt {
	r := &pos.Receipt{
		OrderID:        order.ID,
		DocumentNumber: order.DocumentNumber,
		Token:          order.IdempotencyToken,
		Lines:          make([]pos.ReceiptLine, 0, len(lines)),
		Discounts:      []pos.AppliedDiscount{},
		Subtotal:       order.Subtotal,
		DiscountTotal:  order.DiscountTotal,
		Total:          order.Total,
		PaymentMethod:  req.Method,
		Tendered:       tendered,
		ChangeDue:      change,
		CashierID:      req.CashierID,
		CustomerID:     req.CustomerID,
		IssuedAt:       order.CreatedAt,
	}

	for _, l := range lines {
		rl := pos.ReceiptLine{
			ProductID:        l.stock.ProductID,
			VariantID:        l.stock.VariantID,
			Name:             l.name,
			Quantity:         l.stock.Quantity,
			UnitPrice:        l.unitPrice,
			ChargedUnitPrice: l.chargedUnitPrice(),
			DiscountAmount:   l.savings(),
			LineTotal:        l.total(),
		}
		if d := l.discount; d != nil {
			rl.FreeUnits = d.FreeUnits
			if !d.LineSavings.IsZero() {
				r.Discounts = append(r.Discounts, pos.AppliedDiscount{
					CampaignID: d.CampaignID,
					RuleID:     d.RuleID,
					ProductID:  l.stock.ProductID,
					Kind:       d.Kind,
					Amount:     d.LineSavings,
					Quantity:   l.stock.Quantity,
				})
			}
		}
		r.Lines = append(r.Lines, rl)
	}
	return r
}

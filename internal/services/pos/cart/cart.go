// Package cart holds staged line items prior to checkout. A Cart performs no
// I/O and does no locking; callers serialize access.
package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"syntra-checkout/internal/services/pos"
)

var (
	ErrStockLimit   = errors.New("requested quantity exceeds available stock")
	ErrLineNotFound = errors.New("cart line not found")
)

type Line struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
	Quantity  int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) key() lineKey {
	return lineKey{productID: l.ProductID, variantID: l.VariantID}
}

type lineKey struct {
	productID string
	variantID string
}

// Cart keeps lines in insertion order.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// Add stages quantity units of product (or one of its variants). A line for
// the same product and variant is merged. If the merged quantity would exceed
// available stock nothing changes and ErrStockLimit is returned.
func (c *Cart) Add(product pos.Product, variantID string, quantity int) (Line, error) {
	if quantity < 1 {
		return Line{}, pos.NewValidationError("quantity", "must be at least 1")
	}
	if product.ID == "" {
		return Line{}, pos.NewValidationError("product_id", "required")
	}
	variant, ok := product.Variant(variantID)
	if !ok {
		return Line{}, pos.NewValidationErrorf("variant_id", "unknown variant %q for product %s", variantID, product.ID)
	}

	name := product.Name
	if variantID != "" {
		name = fmt.Sprintf("%s (%s)", product.Name, variant.Name)
	}

	available := product.AvailableStock(variantID)
	k := lineKey{productID: product.ID, variantID: variantID}
	if i := c.index(k); i >= 0 {
		merged := c.lines[i].Quantity + quantity
		if merged > available {
			return c.lines[i], fmt.Errorf("%w: %d requested, %d available", ErrStockLimit, merged, available)
		}
		c.lines[i].Quantity = merged
		c.lines[i].Stock = available
		c.lines[i].UnitPrice = variant.Price
		return c.lines[i], nil
	}

	if quantity > available {
		return Line{}, fmt.Errorf("%w: %d requested, %d available", ErrStockLimit, quantity, available)
	}
	line := Line{
		ProductID: product.ID,
		VariantID: variantID,
		Name:      name,
		UnitPrice: variant.Price,
		Stock:     available,
		Quantity:  quantity,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// SetQuantity applies delta to an existing line. A delta that would move the
// quantity below 1 or above the line's stock is ignored and the unchanged
// line is returned.
func (c *Cart) SetQuantity(productID, variantID string, delta int) (Line, error) {
	i := c.index(lineKey{productID: productID, variantID: variantID})
	if i < 0 {
		return Line{}, ErrLineNotFound
	}
	next := c.lines[i].Quantity + delta
	if next < 1 || next > c.lines[i].Stock {
		return c.lines[i], nil
	}
	c.lines[i].Quantity = next
	return c.lines[i], nil
}

func (c *Cart) Remove(productID, variantID string) error {
	i := c.index(lineKey{productID: productID, variantID: variantID})
	if i < 0 {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// Lines returns a copy of the staged lines.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Snapshot is an immutable copy of the cart taken at a point in time.
type Snapshot struct {
	Lines      []Line    `json:"lines"`
	CapturedAt time.Time `json:"captured_at"`
}

func (c *Cart) Snapshot() Snapshot {
	return Snapshot{Lines: c.Lines(), CapturedAt: time.Now()}
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) index(k lineKey) int {
	for i := range c.lines {
		if c.lines[i].key() == k {
			return i
		}
	}
	return -1
}

package discount

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"syntra-checkout/internal/services/pos"
)

// Legacy discount_type codes.
const (
	legacyTypePercentage  = 1
	legacyTypeFixedAmount = 2
	legacyTypeBuyXGetY    = 3
)

const legacyDiscountQuery = `
	SELECT id, discount_name, discount_type, discount_value, product_id,
	       min_quantity, max_usage_per_transaction, valid_from, valid_until, is_active
	FROM discounts
	WHERE is_active = TRUE
	  AND CAST(product_id AS TEXT) = $1
	  AND min_quantity <= $2
	  AND (valid_from IS NULL OR valid_from <= $3)
	  AND (valid_until IS NULL OR valid_until >= $3)
	ORDER BY valid_until ASC NULLS LAST, id ASC
`

// LegacySource reads the single-table discounts schema.
type LegacySource struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewLegacySource(db *sqlx.DB) *LegacySource {
	return &LegacySource{db: db, now: time.Now}
}

type legacyDiscount struct {
	ID                     int64         `db:"id"`
	DiscountName           string        `db:"discount_name"`
	DiscountType           int32         `db:"discount_type"`
	DiscountValue          string        `db:"discount_value"`
	ProductID              sql.NullInt64 `db:"product_id"`
	MinQuantity            int           `db:"min_quantity"`
	MaxUsagePerTransaction sql.NullInt32 `db:"max_usage_per_transaction"`
	ValidFrom              sql.NullTime  `db:"valid_from"`
	ValidUntil             sql.NullTime  `db:"valid_until"`
	IsActive               bool          `db:"is_active"`
}

func (s *LegacySource) QueryActiveDiscount(ctx context.Context, productID string, quantity int, customerID string) ([]pos.DiscountRule, error) {
	var rows []legacyDiscount
	if err := s.db.SelectContext(ctx, &rows, legacyDiscountQuery, productID, quantity, s.now()); err != nil {
		return nil, fmt.Errorf("failed to query legacy discounts: %w", err)
	}

	rules := make([]pos.DiscountRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// toRule maps a legacy row onto a one-rule campaign. Buy-x-get-y rows store
// the buy quantity in min_quantity and the free units in discount_value.
func (d legacyDiscount) toRule() (pos.DiscountRule, error) {
	value, err := decimal.NewFromString(d.DiscountValue)
	if err != nil {
		return pos.DiscountRule{}, fmt.Errorf("invalid discount_value %q on legacy discount %d: %w", d.DiscountValue, d.ID, err)
	}

	id := "legacy-" + strconv.FormatInt(d.ID, 10)
	status := pos.CampaignInactive
	if d.IsActive {
		status = pos.CampaignActive
	}

	rule := pos.DiscountRule{
		ID: id,
		Campaign: pos.DiscountCampaign{
			ID:     id,
			Name:   d.DiscountName,
			Status: status,
		},
		Value:       value,
		MinQuantity: d.MinQuantity,
	}
	if d.ProductID.Valid {
		rule.ProductID = strconv.FormatInt(d.ProductID.Int64, 10)
	}
	if d.ValidFrom.Valid {
		rule.Campaign.StartsAt = d.ValidFrom.Time
	}
	if d.ValidUntil.Valid {
		rule.Campaign.EndsAt = d.ValidUntil.Time
	}
	if d.MaxUsagePerTransaction.Valid {
		max := int(d.MaxUsagePerTransaction.Int32)
		rule.MaxQuantity = &max
	}

	switch d.DiscountType {
	case legacyTypePercentage:
		rule.Campaign.Kind = pos.DiscountPercentage
	case legacyTypeFixedAmount:
		rule.Campaign.Kind = pos.DiscountFixedAmount
	case legacyTypeBuyXGetY:
		rule.Campaign.Kind = pos.DiscountBuyXGetY
		rule.BuyQuantity = d.MinQuantity
		rule.GetQuantity = int(value.IntPart())
	default:
		return pos.DiscountRule{}, fmt.Errorf("unknown discount_type %d on legacy discount %d", d.DiscountType, d.ID)
	}
	return rule, nil
}

package discount

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"syntra-checkout/internal/database/models"
	"syntra-checkout/internal/services/pos"
)

// CampaignSource reads rules from the discount_campaigns / discount_rules schema.
type CampaignSource struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCampaignSource(db *gorm.DB) *CampaignSource {
	return &CampaignSource{db: db, now: time.Now}
}

func (s *CampaignSource) QueryActiveDiscount(ctx context.Context, productID string, quantity int, customerID string) ([]pos.DiscountRule, error) {
	now := s.now()

	var rows []models.DiscountRule
	err := s.db.WithContext(ctx).
		Joins("Campaign").
		Where("discount_rules.product_id = ?", productID).
		Where("discount_rules.min_quantity <= ?", quantity).
		Where("(discount_rules.max_quantity IS NULL OR discount_rules.max_quantity >= ?)", quantity).
		Where(`"Campaign"."status" = ? AND "Campaign"."starts_at" <= ? AND "Campaign"."ends_at" >= ?`,
			string(pos.CampaignActive), now, now).
		Order(`"Campaign"."ends_at" ASC`).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query discount rules: %w", err)
	}

	rules := make([]pos.DiscountRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, ruleFromModel(row))
	}
	return rules, nil
}

func ruleFromModel(row models.DiscountRule) pos.DiscountRule {
	rule := pos.DiscountRule{
		ID:                  row.ID,
		ProductID:           row.ProductID,
		Value:               row.DiscountValue,
		MinQuantity:         row.MinQuantity,
		MaxQuantity:         row.MaxQuantity,
		BuyQuantity:         row.BuyQuantity,
		GetQuantity:         row.GetQuantity,
		MaxUsagePerCustomer: row.MaxUsagePerCustomer,
		MaxTotalUsage:       row.MaxTotalUsage,
	}
	if row.Campaign != nil {
		rule.Campaign = pos.DiscountCampaign{
			ID:       row.Campaign.ID,
			Name:     row.Campaign.CampaignName,
			Kind:     pos.DiscountKind(row.Campaign.DiscountType),
			Status:   pos.CampaignStatus(row.Campaign.Status),
			StartsAt: row.Campaign.StartsAt,
			EndsAt:   row.Campaign.EndsAt,
		}
	} else {
		rule.Campaign.ID = row.CampaignID
	}
	return rule
}

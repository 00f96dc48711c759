package discount

import (
	"context"

	"go.uber.org/zap"

	"syntra-checkout/internal/metrics"
	"syntra-checkout/internal/services/pos"
)

// Guard enforces the usage ceilings of a rule before its discount is offered.
// It fails closed: a counting error withholds the discount.
type Guard struct {
	counter pos.UsageCounter
	log     *zap.Logger
}

func NewGuard(counter pos.UsageCounter, log *zap.Logger) *Guard {
	return &Guard{counter: counter, log: log}
}

// IsUsageAllowed checks the per-customer ceiling (only when customerID is
// set) and the campaign-wide ceiling.
func (g *Guard) IsUsageAllowed(ctx context.Context, rule pos.DiscountRule, customerID string) bool {
	campaignID := rule.Campaign.ID

	if rule.MaxUsagePerCustomer != nil && customerID != "" {
		used, err := g.counter.QueryUsageCount(ctx, campaignID, customerID)
		if err != nil {
			g.deny("query_error", rule, customerID, err)
			return false
		}
		if used >= *rule.MaxUsagePerCustomer {
			g.deny("per_customer", rule, customerID, nil)
			return false
		}
	}

	if rule.MaxTotalUsage != nil {
		used, err := g.counter.QueryUsageCount(ctx, campaignID, "")
		if err != nil {
			g.deny("query_error", rule, customerID, err)
			return false
		}
		if used >= *rule.MaxTotalUsage {
			g.deny("total", rule, customerID, nil)
			return false
		}
	}

	return true
}

func (g *Guard) deny(reason string, rule pos.DiscountRule, customerID string, err error) {
	metrics.RecordUsageDenial(reason)
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.String("campaign_id", rule.Campaign.ID),
		zap.String("rule_id", rule.ID),
		zap.String("customer_id", customerID),
	}
	if err != nil {
		g.log.Warn("usage count failed, withholding discount", append(fields, zap.Error(err))...)
		return
	}
	g.log.Debug("discount usage ceiling reached", fields...)
}

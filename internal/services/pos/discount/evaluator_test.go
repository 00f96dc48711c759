package discount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syntra-checkout/internal/services/pos"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	rules []pos.DiscountRule
	err   error
}

func (f *fakeSource) QueryActiveDiscount(ctx context.Context, productID string, quantity int, customerID string) ([]pos.DiscountRule, error) {
	return f.rules, f.err
}

type fakeUsage struct {
	mu     sync.Mutex
	counts map[string]int // campaign|customer
	err    error
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{counts: map[string]int{}}
}

func (f *fakeUsage) QueryUsageCount(ctx context.Context, campaignID, customerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if customerID == "" {
		total := 0
		for k, n := range f.counts {
			if len(k) > len(campaignID) && k[:len(campaignID)+1] == campaignID+"|" {
				total += n
			}
		}
		return total, nil
	}
	return f.counts[campaignID+"|"+customerID], nil
}

func (f *fakeUsage) record(campaignID, customerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[campaignID+"|"+customerID]++
}

type fakeProducts map[string]pos.Product

func (f fakeProducts) GetProduct(ctx context.Context, id string) (pos.Product, error) {
	p, ok := f[id]
	if !ok {
		return pos.Product{}, pos.ErrNotFound
	}
	return p, nil
}

func intPtr(i int) *int { return &i }

func rule(id, campaignID string, kind pos.DiscountKind, value int64, ends time.Time) pos.DiscountRule {
	return pos.DiscountRule{
		ID:        id,
		ProductID: "p1",
		Value:     decimal.NewFromInt(value),
		Campaign: pos.DiscountCampaign{
			ID:       campaignID,
			Name:     "campaign " + campaignID,
			Kind:     kind,
			Status:   pos.CampaignActive,
			StartsAt: testNow.Add(-24 * time.Hour),
			EndsAt:   ends,
		},
		MinQuantity: 1,
	}
}

func newTestEvaluator(src Source, usage *fakeUsage) *Evaluator {
	products := fakeProducts{"p1": {ID: "p1", Name: "Widget", Price: decimal.NewFromInt(1000), Stock: 10}}
	return NewEvaluator(src, NewGuard(usage, zap.NewNop()), products, zap.NewNop(), WithClock(func() time.Time { return testNow }))
}

func TestApply_Percentage(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountPercentage, 20, testNow.Add(time.Hour))

	res := Apply(r, decimal.NewFromInt(1000), 1)

	assert.Equal(t, "800", res.FinalPrice.String())
	assert.Equal(t, "200", res.Savings.String())
	assert.True(t, res.ReducesPrice())
}

func TestApply_PercentageClampedToHundred(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountBundle, 150, testNow.Add(time.Hour))

	res := Apply(r, decimal.NewFromInt(40), 2)

	assert.True(t, res.FinalPrice.IsZero())
	assert.Equal(t, "80", res.LineSavings.String())
}

func TestApply_FixedAmountNeverNegative(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountFixedAmount, 600, testNow.Add(time.Hour))

	res := Apply(r, decimal.NewFromInt(500), 1)

	assert.True(t, res.FinalPrice.IsZero())
	assert.Equal(t, "500", res.Savings.String())
}

func TestApply_BuyXGetY(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountBuyXGetY, 0, testNow.Add(time.Hour))
	r.BuyQuantity = 2
	r.GetQuantity = 1

	res := Apply(r, decimal.NewFromInt(150), 6)

	assert.Equal(t, 2, res.FreeUnits)
	assert.Equal(t, 2, res.BuyQuantity)
	assert.Equal(t, 1, res.GetQuantity)
	assert.True(t, res.FinalPrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, res.Savings.IsZero())
	assert.Equal(t, "300", res.LineSavings.String())
	assert.False(t, res.ReducesPrice())
}

func TestFreeUnits(t *testing.T) {
	cases := []struct {
		qty, buy, get, want int
	}{
		{6, 2, 1, 2},
		{5, 2, 1, 1},
		{2, 2, 1, 0},
		{8, 1, 1, 4},
		{6, 0, 1, 0},
		{6, 2, 0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FreeUnits(tc.qty, tc.buy, tc.get), "qty=%d buy=%d get=%d", tc.qty, tc.buy, tc.get)
	}
}

func TestSelect_EarliestEndDateWins(t *testing.T) {
	late := rule("r-late", "a", pos.DiscountPercentage, 50, testNow.Add(72*time.Hour))
	soon := rule("r-soon", "z", pos.DiscountPercentage, 5, testNow.Add(2*time.Hour))
	open := rule("r-open", "b", pos.DiscountPercentage, 90, time.Time{})

	got, ok := Select([]pos.DiscountRule{open, late, soon}, "p1", 1, testNow)

	require.True(t, ok)
	assert.Equal(t, "r-soon", got.ID)
}

func TestSelect_TieBreaksOnCampaignThenRule(t *testing.T) {
	ends := testNow.Add(time.Hour)
	a2 := rule("r2", "a", pos.DiscountPercentage, 10, ends)
	a1 := rule("r1", "a", pos.DiscountPercentage, 10, ends)
	b := rule("r0", "b", pos.DiscountPercentage, 10, ends)

	got, ok := Select([]pos.DiscountRule{b, a2, a1}, "p1", 1, testNow)

	require.True(t, ok)
	assert.Equal(t, "r1", got.ID)
}

func TestSelect_FiltersIneligible(t *testing.T) {
	ends := testNow.Add(time.Hour)

	inactive := rule("r1", "c1", pos.DiscountPercentage, 10, ends)
	inactive.Campaign.Status = pos.CampaignInactive

	expired := rule("r2", "c2", pos.DiscountPercentage, 10, testNow.Add(-time.Minute))

	future := rule("r3", "c3", pos.DiscountPercentage, 10, ends)
	future.Campaign.StartsAt = testNow.Add(time.Minute)

	otherProduct := rule("r4", "c4", pos.DiscountPercentage, 10, ends)
	otherProduct.ProductID = "p2"

	tooMany := rule("r5", "c5", pos.DiscountPercentage, 10, ends)
	tooMany.MaxQuantity = intPtr(2)

	tooFew := rule("r6", "c6", pos.DiscountPercentage, 10, ends)
	tooFew.MinQuantity = 5

	_, ok := Select([]pos.DiscountRule{inactive, expired, future, otherProduct, tooMany, tooFew}, "p1", 3, testNow)
	assert.False(t, ok)
}

func TestEvaluate_UsesCatalogPrice(t *testing.T) {
	src := &fakeSource{rules: []pos.DiscountRule{rule("r1", "c1", pos.DiscountPercentage, 20, testNow.Add(time.Hour))}}
	e := newTestEvaluator(src, newFakeUsage())

	res, err := e.Evaluate(context.Background(), "p1", 2, "")

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "800", res.FinalPrice.String())
	assert.Equal(t, "400", res.LineSavings.String())
}

func TestEvaluate_NoCandidates(t *testing.T) {
	e := newTestEvaluator(&fakeSource{}, newFakeUsage())

	res, err := e.Evaluate(context.Background(), "p1", 1, "cust-1")

	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestEvaluate_SourceErrorIsReturned(t *testing.T) {
	e := newTestEvaluator(&fakeSource{err: errors.New("db down")}, newFakeUsage())

	res, err := e.Evaluate(context.Background(), "p1", 1, "")

	assert.Nil(t, res)
	assert.ErrorContains(t, err, "db down")
}

func TestEvaluate_PerCustomerCeiling(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountPercentage, 20, testNow.Add(time.Hour))
	r.MaxUsagePerCustomer = intPtr(1)
	usage := newFakeUsage()
	e := newTestEvaluator(&fakeSource{rules: []pos.DiscountRule{r}}, usage)
	ctx := context.Background()

	first, err := e.Evaluate(ctx, "p1", 1, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	usage.record("c1", "cust-1")

	second, err := e.Evaluate(ctx, "p1", 1, "cust-1")
	require.NoError(t, err)
	assert.Nil(t, second)

	other, err := e.Evaluate(ctx, "p1", 1, "cust-2")
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestEvaluate_TotalCeilingAppliesToGuests(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountFixedAmount, 100, testNow.Add(time.Hour))
	r.MaxTotalUsage = intPtr(2)
	usage := newFakeUsage()
	usage.record("c1", "cust-1")
	usage.record("c1", "cust-2")
	e := newTestEvaluator(&fakeSource{rules: []pos.DiscountRule{r}}, usage)

	res, err := e.Evaluate(context.Background(), "p1", 1, "")

	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGuard_FailsClosed(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountPercentage, 20, testNow.Add(time.Hour))
	r.MaxUsagePerCustomer = intPtr(5)
	usage := newFakeUsage()
	usage.err = errors.New("timeout")
	g := NewGuard(usage, zap.NewNop())

	assert.False(t, g.IsUsageAllowed(context.Background(), r, "cust-1"))
}

func TestGuard_NoCeilingsAllows(t *testing.T) {
	usage := newFakeUsage()
	usage.err = errors.New("never called")
	g := NewGuard(usage, zap.NewNop())

	assert.True(t, g.IsUsageAllowed(context.Background(), rule("r1", "c1", pos.DiscountPercentage, 20, testNow), "cust-1"))
}

func TestGuard_PerCustomerSkippedForGuests(t *testing.T) {
	r := rule("r1", "c1", pos.DiscountPercentage, 20, testNow.Add(time.Hour))
	r.MaxUsagePerCustomer = intPtr(1)
	usage := newFakeUsage()
	usage.record("c1", "cust-1")
	g := NewGuard(usage, zap.NewNop())

	assert.True(t, g.IsUsageAllowed(context.Background(), r, ""))
}

package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"syntra-checkout/internal/services/pos"
	"syntra-checkout/internal/services/pos/cart"
)

type checkoutTestContext struct {
	products []pos.Product
	rules    []pos.DiscountRule
	h        *harness
	cart     *cart.Cart
	receipt  *pos.Receipt
	err      error
}

func (c *checkoutTestContext) reset() {
	c.products = nil
	c.rules = nil
	c.h = nil
	c.cart = cart.New()
	c.receipt = nil
	c.err = nil
}

// harness builds the store lazily so every Given can still add products.
func (c *checkoutTestContext) harness() *harness {
	if c.h == nil {
		c.h = newHarness(c.products...)
		for _, r := range c.rules {
			c.h.rules.add(r)
		}
	}
	return c.h
}

func (c *checkoutTestContext) aProductNamedPricedWithInStock(id, name string, price, stock int) error {
	c.products = append(c.products, pos.Product{ID: id, Name: name, Price: decimal.NewFromInt(int64(price)), Stock: stock})
	return nil
}

func (c *checkoutTestContext) addRule(r pos.DiscountRule) {
	c.rules = append(c.rules, r)
	if c.h != nil {
		c.h.rules.add(r)
	}
}

func (c *checkoutTestContext) aPercentDiscountOn(percent int, productID string) error {
	c.addRule(rule("pct-"+productID, productID, pos.DiscountPercentage, fmt.Sprint(percent)))
	return nil
}

func (c *checkoutTestContext) aFixedDiscountOfOn(amount int, productID string) error {
	c.addRule(rule("fixed-"+productID, productID, pos.DiscountFixedAmount, fmt.Sprint(amount)))
	return nil
}

func (c *checkoutTestContext) aBuyGetDiscountOn(buy, get int, productID string) error {
	r := rule("bxgy-"+productID, productID, pos.DiscountBuyXGetY, "0")
	r.BuyQuantity, r.GetQuantity = buy, get
	c.addRule(r)
	return nil
}

func (c *checkoutTestContext) theCartHoldsOf(quantity int, productID string) error {
	p, err := c.harness().store.GetProduct(context.Background(), productID)
	if err != nil {
		return err
	}
	_, err = c.cart.Add(p, "", quantity)
	return err
}

func (c *checkoutTestContext) anotherRegisterSellsOf(quantity int, productID string) error {
	_, err := c.harness().store.DecrementStock(context.Background(), "other-register", pos.StockLine{ProductID: productID, Quantity: quantity})
	return err
}

func (c *checkoutTestContext) theCartIsCommittedByCardWithToken(token string) error {
	c.receipt, c.err = c.harness().orch.Commit(context.Background(), c.cart.Snapshot(), cardRequest(token))
	return nil
}

func (c *checkoutTestContext) theCartIsCommittedWithCashByAndToken(tendered int, cashier, token string) error {
	c.receipt, c.err = c.harness().orch.Commit(context.Background(), c.cart.Snapshot(), CommitRequest{
		Token:     token,
		Method:    pos.PaymentCash,
		Tendered:  decimal.NewFromInt(int64(tendered)),
		CashierID: cashier,
	})
	return nil
}

func (c *checkoutTestContext) theCommitSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected commit to succeed, got %v", c.err)
	}
	return nil
}

func (c *checkoutTestContext) theReceiptTotalIs(total int) error {
	if c.receipt == nil {
		return errors.New("no receipt")
	}
	if !c.receipt.Total.Equal(decimal.NewFromInt(int64(total))) {
		return fmt.Errorf("expected total %d, got %s", total, c.receipt.Total)
	}
	return nil
}

func (c *checkoutTestContext) theReceiptDiscountTotalIs(total int) error {
	if c.receipt == nil {
		return errors.New("no receipt")
	}
	if !c.receipt.DiscountTotal.Equal(decimal.NewFromInt(int64(total))) {
		return fmt.Errorf("expected discount total %d, got %s", total, c.receipt.DiscountTotal)
	}
	return nil
}

func (c *checkoutTestContext) theReceiptIsAReplay() error {
	if c.receipt == nil || !c.receipt.Replayed {
		return errors.New("expected a replayed receipt")
	}
	return nil
}

func (c *checkoutTestContext) hasInStock(productID string, stock int) error {
	if got := c.harness().store.stock(productID, ""); got != stock {
		return fmt.Errorf("expected %s to have %d in stock, got %d", productID, stock, got)
	}
	return nil
}

func (c *checkoutTestContext) ordersWereRecorded(n int) error {
	if got := len(c.harness().store.orderList()); got != n {
		return fmt.Errorf("expected %d orders, got %d", n, got)
	}
	return nil
}

func (c *checkoutTestContext) theCommitFailsWithInsufficientStock() error {
	if !errors.Is(c.err, pos.ErrInsufficientStock) {
		return fmt.Errorf("expected insufficient stock, got %v", c.err)
	}
	return nil
}

func (c *checkoutTestContext) theCommitFailsValidation() error {
	if !pos.IsValidation(c.err) {
		return fmt.Errorf("expected a validation error, got %v", c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &checkoutTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^a product "([^"]*)" named "([^"]*)" priced (\d+) with (\d+) in stock$`, tc.aProductNamedPricedWithInStock)
	ctx.Step(`^a (\d+) percent discount on "([^"]*)"$`, tc.aPercentDiscountOn)
	ctx.Step(`^a fixed discount of (\d+) on "([^"]*)"$`, tc.aFixedDiscountOfOn)
	ctx.Step(`^a buy (\d+) get (\d+) discount on "([^"]*)"$`, tc.aBuyGetDiscountOn)
	ctx.Step(`^the cart holds (\d+) of "([^"]*)"$`, tc.theCartHoldsOf)
	ctx.Step(`^another register sells (\d+) of "([^"]*)"$`, tc.anotherRegisterSellsOf)

	ctx.Step(`^the cart is committed by card with token "([^"]*)"$`, tc.theCartIsCommittedByCardWithToken)
	ctx.Step(`^the cart is committed with (\d+) cash by "([^"]*)" and token "([^"]*)"$`, tc.theCartIsCommittedWithCashByAndToken)

	ctx.Step(`^the commit succeeds$`, tc.theCommitSucceeds)
	ctx.Step(`^the receipt total is (\d+)$`, tc.theReceiptTotalIs)
	ctx.Step(`^the receipt discount total is (\d+)$`, tc.theReceiptDiscountTotalIs)
	ctx.Step(`^the receipt is a replay$`, tc.theReceiptIsAReplay)
	ctx.Step(`^"([^"]*)" has (\d+) in stock$`, tc.hasInStock)
	ctx.Step(`^(\d+) orders? (?:was|were) recorded$`, tc.ordersWereRecorded)
	ctx.Step(`^the commit fails with insufficient stock$`, tc.theCommitFailsWithInsufficientStock)
	ctx.Step(`^the commit fails validation$`, tc.theCommitFailsValidation)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/checkout.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

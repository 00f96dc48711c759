// Package checkout commits a cart snapshot as an order: it re-prices the
// snapshot, reserves stock, records the order and payment, and records
// discount usage, compensating reserved stock when a later step fails.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"syntra-checkout/internal/metrics"
	"syntra-checkout/internal/services/pos"
	"syntra-checkout/internal/services/pos/cart"
	"syntra-checkout/internal/services/pos/discount"
)

const (
	PhaseValidating = "validating"
	PhaseReserving  = "reserving"
	PhaseRecording  = "recording"
	PhaseFinalizing = "finalizing"
	PhaseCommitted  = "committed"
)

// Evaluator prices one line against the active discounts.
type Evaluator interface {
	EvaluatePrice(ctx context.Context, productID string, unitPrice decimal.Decimal, quantity int, customerID string) (*discount.Result, error)
}

type CommitRequest struct {
	Token      string
	Method     pos.PaymentMethod
	Tendered   decimal.Decimal
	CustomerID string
	CashierID  string
}

type Options struct {
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

type Orchestrator struct {
	store     pos.Store
	evaluator Evaluator
	idem      pos.IdempotencyStore
	events    pos.EventPublisher
	ttl       time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewOrchestrator wires the commit pipeline. events may be nil.
func NewOrchestrator(store pos.Store, evaluator Evaluator, idem pos.IdempotencyStore, events pos.EventPublisher, opts Options, log *zap.Logger) *Orchestrator {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:     store,
		evaluator: evaluator,
		idem:      idem,
		events:    events,
		ttl:       opts.IdempotencyTTL,
		now:       opts.Now,
		log:       log,
	}
}

// pricedLine is one snapshot line re-priced at commit time.
type pricedLine struct {
	stock     pos.StockLine
	name      string
	unitPrice decimal.Decimal
	discount  *discount.Result
}

func (l pricedLine) gross() decimal.Decimal {
	return l.unitPrice.Mul(decimal.NewFromInt(int64(l.stock.Quantity)))
}

func (l pricedLine) savings() decimal.Decimal {
	if l.discount == nil {
		return decimal.Zero
	}
	return l.discount.LineSavings
}

func (l pricedLine) total() decimal.Decimal {
	return l.gross().Sub(l.savings())
}

// chargedUnitPrice is what each paid unit costs. Buy-x-get-y charges paid
// units at list price and gives freeUnits away.
func (l pricedLine) chargedUnitPrice() decimal.Decimal {
	if l.discount == nil || !l.discount.ReducesPrice() {
		return l.unitPrice
	}
	return l.discount.FinalPrice
}

func (l pricedLine) freeUnits() int {
	if l.discount == nil {
		return 0
	}
	return l.discount.FreeUnits
}

// Commit turns snap into a completed order. A token that already committed
// returns its original receipt with Replayed set and touches nothing.
func (o *Orchestrator) Commit(ctx context.Context, snap cart.Snapshot, req CommitRequest) (*pos.Receipt, error) {
	start := time.Now()
	receipt, err := o.commit(ctx, snap, req)
	outcome := commitOutcome(receipt, err)
	metrics.RecordCommitDuration(outcome, time.Since(start).Seconds())

	if err != nil {
		o.log.Warn("commit failed",
			zap.String("token", req.Token),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return nil, err
	}
	o.log.Info("commit completed",
		zap.String("order_id", receipt.OrderID),
		zap.String("document_number", receipt.DocumentNumber),
		zap.String("total", receipt.Total.StringFixed(2)),
		zap.Bool("replayed", receipt.Replayed),
		zap.Bool("degraded", receipt.Degraded),
	)
	return receipt, nil
}

func (o *Orchestrator) commit(ctx context.Context, snap cart.Snapshot, req CommitRequest) (*pos.Receipt, error) {
	o.enter(req.Token, PhaseValidating)
	if req.Token == "" {
		return nil, pos.NewValidationError("token", "required")
	}

	// A retried token is answered before the cart is looked at: the session
	// has already cleared the cart of a committed sale.
	prior, err := o.idem.Lookup(ctx, req.Token)
	switch {
	case err == nil:
		replay := *prior
		replay.Replayed = true
		return &replay, nil
	case errors.Is(err, pos.ErrCommitInProgress):
		return nil, err
	case !errors.Is(err, pos.ErrNotFound):
		return nil, fmt.Errorf("failed to check idempotency token: %w", err)
	}

	if err := validateRequest(snap, req); err != nil {
		return nil, err
	}

	lines, err := o.price(ctx, snap, req.CustomerID)
	if err != nil {
		return nil, err
	}

	subtotal, discountTotal, total := totals(lines)
	tendered, change, err := settle(req, total)
	if err != nil {
		return nil, err
	}

	if err := o.idem.Claim(ctx, req.Token, o.ttl); err != nil {
		if errors.Is(err, pos.ErrDuplicateToken) {
			if prior, lookupErr := o.idem.Lookup(ctx, req.Token); lookupErr == nil {
				replay := *prior
				replay.Replayed = true
				return &replay, nil
			}
		}
		return nil, err
	}

	// Last point at which the caller may abandon the commit.
	if err := ctx.Err(); err != nil {
		o.release(req.Token)
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	now := o.now()
	order := pos.Order{
		ID:               uuid.NewString(),
		IdempotencyToken: req.Token,
		Status:           pos.OrderProcessing,
		Subtotal:         subtotal,
		DiscountTotal:    discountTotal,
		Total:            total,
		CustomerID:       req.CustomerID,
		CashierID:        req.CashierID,
		CreatedAt:        now,
	}
	order.DocumentNumber = DocumentNumber(now, order.ID)

	o.enter(req.Token, PhaseReserving)
	changes, err := o.reserve(ctx, order.ID, req.Token, lines)
	if err != nil {
		o.release(req.Token)
		return nil, err
	}

	o.enter(req.Token, PhaseRecording)
	if err := o.record(ctx, &order, lines, req, tendered, change); err != nil {
		o.release(req.Token)
		return nil, err
	}

	o.enter(req.Token, PhaseFinalizing)
	receipt := buildReceipt(order, lines, req, tendered, change)
	o.finalize(ctx, order, lines, req.CustomerID, receipt)

	if err := o.idem.Complete(ctx, req.Token, *receipt, o.ttl); err != nil {
		o.log.Error("failed to store receipt for token; the order token remains unique in the ledger",
			zap.String("token", req.Token),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
	o.publish(ctx, order, changes)
	o.enter(req.Token, PhaseCommitted)
	return receipt, nil
}

func (o *Orchestrator) enter(token, phase string) {
	o.log.Debug("commit phase", zap.String("token", token), zap.String("phase", phase))
}

func validateRequest(snap cart.Snapshot, req CommitRequest) error {
	if snap.Empty() {
		return pos.NewValidationError("cart", "is empty")
	}
	for _, l := range snap.Lines {
		if l.ProductID == "" {
			return pos.NewValidationError("product_id", "required")
		}
		if l.Quantity < 1 {
			return pos.NewValidationErrorf("quantity", "must be at least 1 for product %s", l.ProductID)
		}
	}
	if !req.Method.Valid() {
		return pos.NewValidationErrorf("payment_method", "unsupported method %q", req.Method)
	}
	if req.Method == pos.PaymentCash && req.CashierID == "" {
		return pos.NewValidationError("cashier_id", "cash payments need an authorizing staff member")
	}
	return nil
}

// settle works out the tendered amount and change. Only cash can be over-
// tendered; other methods are charged the exact total.
func settle(req CommitRequest, total decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if req.Method != pos.PaymentCash {
		return total, decimal.Zero, nil
	}
	if req.Tendered.LessThan(total) {
		return decimal.Zero, decimal.Zero, pos.NewValidationErrorf("tendered",
			"%s does not cover the total of %s", req.Tendered.StringFixed(2), total.StringFixed(2))
	}
	return req.Tendered, req.Tendered.Sub(total), nil
}

// price re-reads every product and re-evaluates its discount concurrently.
func (o *Orchestrator) price(ctx context.Context, snap cart.Snapshot, customerID string) ([]pricedLine, error) {
	lines := make([]pricedLine, len(snap.Lines))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range snap.Lines {
		i, l := i, l
		g.Go(func() error {
			product, err := o.store.GetProduct(gctx, l.ProductID)
			if err != nil {
				if errors.Is(err, pos.ErrNotFound) {
					return pos.NewValidationErrorf("product_id", "product %s is no longer available", l.ProductID)
				}
				return err
			}
			variant, ok := product.Variant(l.VariantID)
			if !ok {
				return pos.NewValidationErrorf("variant_id", "unknown variant %q for product %s", l.VariantID, l.ProductID)
			}
			if l.Quantity > product.AvailableStock(l.VariantID) {
				return &pos.InsufficientStockError{ProductID: l.ProductID, VariantID: l.VariantID, Requested: l.Quantity}
			}

			res, err := o.evaluator.EvaluatePrice(gctx, l.ProductID, variant.Price, l.Quantity, customerID)
			if err != nil {
				return err
			}
			lines[i] = pricedLine{
				stock:     pos.StockLine{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity},
				name:      lineName(product, variant, l.VariantID),
				unitPrice: variant.Price,
				discount:  res,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

func lineName(product pos.Product, variant pos.Variant, variantID string) string {
	if variantID == "" {
		return product.Name
	}
	return fmt.Sprintf("%s (%s)", product.Name, variant.Name)
}

func totals(lines []pricedLine) (subtotal, discountTotal, total decimal.Decimal) {
	for _, l := range lines {
		subtotal = subtotal.Add(l.gross())
		discountTotal = discountTotal.Add(l.savings())
		total = total.Add(l.total())
	}
	return subtotal, discountTotal, total
}

// reserve decrements stock line by line. The first shortfall restores what
// was already taken so the ledger is left as it was.
func (o *Orchestrator) reserve(ctx context.Context, orderID, token string, lines []pricedLine) ([]pos.StockChange, error) {
	changes := make([]pos.StockChange, 0, len(lines))
	reserved := make([]pos.StockLine, 0, len(lines))
	for _, l := range lines {
		remaining, err := o.store.DecrementStock(ctx, orderID, l.stock)
		if err != nil {
			if compErr := o.restore(ctx, orderID, reserved); compErr != nil {
				return nil, &pos.CommitFailure{
					Phase:           PhaseReserving,
					OrderID:         orderID,
					Token:           token,
					Reserved:        reserved,
					Partial:         true,
					Cause:           err,
					CompensationErr: compErr,
				}
			}
			return nil, err
		}
		reserved = append(reserved, l.stock)
		changes = append(changes, pos.StockChange{
			ProductID: l.stock.ProductID,
			VariantID: l.stock.VariantID,
			Name:      l.name,
			Previous:  remaining + l.stock.Quantity,
			Current:   remaining,
		})
	}
	return changes, nil
}

// restore puts reserved lines back, attempting every line even after a
// failure.
func (o *Orchestrator) restore(ctx context.Context, ref string, reserved []pos.StockLine) error {
	var errs []error
	for _, l := range reserved {
		if _, err := o.store.RestoreStock(ctx, ref, l); err != nil {
			o.log.Error("failed to restore reserved stock",
				zap.String("ref", ref),
				zap.String("product_id", l.ProductID),
				zap.String("variant_id", l.VariantID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) record(ctx context.Context, order *pos.Order, lines []pricedLine, req CommitRequest, tendered, change decimal.Decimal) error {
	created := false
	fail := func(cause error) error {
		var errs []error
		if created {
			if err := o.store.UpdateOrderStatus(ctx, order.ID, pos.OrderCancelled); err != nil {
				errs = append(errs, fmt.Errorf("cancel order: %w", err))
			}
		}
		if err := o.restore(ctx, order.ID, stockLines(lines)); err != nil {
			errs = append(errs, err)
		}
		failure := &pos.CommitFailure{
			Phase:    PhaseRecording,
			OrderID:  order.ID,
			Token:    order.IdempotencyToken,
			Reserved: stockLines(lines),
			Cause:    cause,
		}
		if len(errs) > 0 {
			failure.Partial = true
			failure.CompensationErr = errors.Join(errs...)
		}
		return failure
	}

	if _, err := o.store.CreateOrder(ctx, *order); err != nil {
		return fail(err)
	}
	created = true

	orderLines := make([]pos.OrderLine, 0, len(lines))
	for _, l := range lines {
		ol := pos.OrderLine{
			OrderID:          order.ID,
			ProductID:        l.stock.ProductID,
			VariantID:        l.stock.VariantID,
			Name:             l.name,
			Quantity:         l.stock.Quantity,
			UnitPrice:        l.unitPrice,
			ChargedUnitPrice: l.chargedUnitPrice(),
			FreeUnits:        l.freeUnits(),
			DiscountAmount:   l.savings(),
			LineTotal:        l.total(),
		}
		if l.discount != nil {
			ol.CampaignID = l.discount.CampaignID
			ol.RuleID = l.discount.RuleID
		}
		orderLines = append(orderLines, ol)
	}
	if err := o.store.CreateOrderLines(ctx, orderLines); err != nil {
		return fail(err)
	}

	payment := pos.Payment{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		Amount:       order.Total,
		Method:       req.Method,
		Status:       pos.PaymentCompleted,
		Tendered:     tendered,
		ChangeDue:    change,
		AuthorizedBy: req.CashierID,
		CreatedAt:    order.CreatedAt,
	}
	if _, err := o.store.CreatePayment(ctx, payment); err != nil {
		return fail(err)
	}

	if err := o.store.UpdateOrderStatus(ctx, order.ID, pos.OrderCompleted); err != nil {
		return fail(err)
	}
	order.Status = pos.OrderCompleted
	return nil
}

// finalize records one usage per applied discount. The order is already
// committed, so failures only degrade the receipt.
func (o *Orchestrator) finalize(ctx context.Context, order pos.Order, lines []pricedLine, customerID string, receipt *pos.Receipt) {
	for _, l := range lines {
		d := l.discount
		if d == nil || d.LineSavings.IsZero() {
			continue
		}
		usage := pos.DiscountUsage{
			ID:         uuid.NewString(),
			CampaignID: d.CampaignID,
			RuleID:     d.RuleID,
			OrderID:    order.ID,
			CustomerID: customerID,
			Amount:     d.LineSavings,
			Quantity:   l.stock.Quantity,
			CreatedAt:  order.CreatedAt,
		}
		if err := o.store.RecordDiscountUsage(ctx, usage, d.Rule); err != nil {
			o.log.Warn("failed to record discount usage",
				zap.String("order_id", order.ID),
				zap.String("campaign_id", d.CampaignID),
				zap.String("rule_id", d.RuleID),
				zap.Error(err),
			)
			receipt.Degraded = true
			receipt.UsageErrors = append(receipt.UsageErrors, fmt.Sprintf("%s/%s: %v", d.CampaignID, d.RuleID, err))
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, order pos.Order, changes []pos.StockChange) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishOrder(ctx, order, pos.EventOrderCreated); err != nil {
		o.log.Warn("failed to publish order event", zap.String("order_id", order.ID), zap.Error(err))
	}
	for _, c := range changes {
		if err := o.events.PublishStock(ctx, c); err != nil {
			o.log.Warn("failed to publish stock event", zap.String("product_id", c.ProductID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.idem.Release(ctx, token); err != nil {
		o.log.Warn("failed to release idempotency token", zap.String("token", token), zap.Error(err))
	}
}

func stockLines(lines []pricedLine) []pos.StockLine {
	out := make([]pos.StockLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.stock)
	}
	return out
}

func commitOutcome(receipt *pos.Receipt, err error) string {
	var failure *pos.CommitFailure
	switch {
	case err == nil && receipt.Replayed:
		return "replayed"
	case err == nil && receipt.Degraded:
		return "degraded"
	case err == nil:
		return "committed"
	case errors.As(err, &failure) && failure.Partial:
		return "partial"
	case pos.IsValidation(err):
		return "invalid"
	case errors.Is(err, pos.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, pos.ErrCommitInProgress):
		return "in_progress"
	}
	return "failed"
}

// Package ledger is the Postgres and Redis backed Catalog & Ledger Store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syntra-checkout/internal/database/models"
	"syntra-checkout/internal/services/pos"
)

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

var _ pos.Store = (*Store)(nil)

func (s *Store) GetProduct(ctx context.Context, id string) (pos.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		Preload("Variants").
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pos.Product{}, fmt.Errorf("product %s: %w", id, pos.ErrNotFound)
		}
		return pos.Product{}, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	return productFromModel(product), nil
}

// DecrementStock removes line.Quantity units only if the row still holds at
// least that many, and records a sale movement referencing ref.
func (s *Store) DecrementStock(ctx context.Context, ref string, line pos.StockLine) (int, error) {
	return s.moveStock(ctx, ref, line, -line.Quantity, models.MovementTypeSale)
}

// RestoreStock returns units taken by DecrementStock.
func (s *Store) RestoreStock(ctx context.Context, ref string, line pos.StockLine) (int, error) {
	return s.moveStock(ctx, ref, line, line.Quantity, models.MovementTypeRelease)
}

func (s *Store) moveStock(ctx context.Context, ref string, line pos.StockLine, delta int, movementType int32) (int, error) {
	if line.Quantity < 1 {
		return 0, pos.NewValidationError("quantity", "must be at least 1")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var (
		remaining int
		result    *gorm.DB
	)
	if line.VariantID != "" {
		var variant models.ProductVariant
		q := tx.Model(&variant).Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock"}}}).
			Where("id = ? AND product_id = ?", line.VariantID, line.ProductID)
		if delta < 0 {
			q = q.Where("stock >= ?", -delta)
		}
		result = q.UpdateColumns(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now(),
		})
		remaining = variant.Stock
	} else {
		var product models.Product
		q := tx.Model(&product).Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock"}}}).
			Where("id = ?", line.ProductID)
		if delta < 0 {
			q = q.Where("stock >= ?", -delta)
		}
		result = q.UpdateColumns(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now(),
		})
		remaining = product.Stock
	}

	if result.Error != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to update stock for product %s: %w", line.ProductID, result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		if delta < 0 {
			return 0, &pos.InsufficientStockError{ProductID: line.ProductID, VariantID: line.VariantID, Requested: line.Quantity}
		}
		return 0, fmt.Errorf("product %s: %w", line.ProductID, pos.ErrNotFound)
	}

	movement := models.StockMovement{
		ProductID:    line.ProductID,
		VariantID:    optional(line.VariantID),
		MovementType: movementType,
		Quantity:     line.Quantity,
		ReferenceID:  ref,
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(&movement).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to create stock movement record: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("failed to commit stock change: %w", err)
	}
	return remaining, nil
}

func (s *Store) CreateOrder(ctx context.Context, order pos.Order) (pos.Order, error) {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	doc := models.OrderDocument{
		ID:               order.ID,
		DocumentNumber:   order.DocumentNumber,
		IdempotencyToken: order.IdempotencyToken,
		Status:           string(order.Status),
		CustomerID:       optional(order.CustomerID),
		CashierID:        optional(order.CashierID),
		Subtotal:         order.Subtotal,
		DiscountAmount:   order.DiscountTotal,
		TotalAmount:      order.Total,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		if isUniqueViolation(err, "idempotency_token") {
			return pos.Order{}, fmt.Errorf("order for token %s: %w", order.IdempotencyToken, pos.ErrDuplicateToken)
		}
		return pos.Order{}, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

func (s *Store) CreateOrderLines(ctx context.Context, lines []pos.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	now := time.Now()
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.OrderItem{
			DocumentID:       l.OrderID,
			ProductID:        l.ProductID,
			VariantID:        optional(l.VariantID),
			ProductName:      l.Name,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			ChargedUnitPrice: l.ChargedUnitPrice,
			FreeUnits:        l.FreeUnits,
			DiscountAmount:   l.DiscountAmount,
			LineTotal:        l.LineTotal,
			CampaignID:       optional(l.CampaignID),
			RuleID:           optional(l.RuleID),
			CreatedAt:        now,
		})
	}
	if err := s.db.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("failed to create order items: %w", err)
	}
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, payment pos.Payment) (pos.Payment, error) {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	row := models.Payment{
		ID:             payment.ID,
		DocumentID:     payment.OrderID,
		Amount:         payment.Amount,
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		TenderedAmount: payment.Tendered,
		ChangeAmount:   payment.ChangeDue,
		AuthorizedBy:   optional(payment.AuthorizedBy),
		CreatedAt:      payment.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return pos.Payment{}, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status pos.OrderStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.OrderDocument{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", orderID, pos.ErrNotFound)
	}
	return nil
}

// RecordDiscountUsage inserts a usage row. When the rule carries ceilings the
// rule row is locked and the counts re-checked in the same transaction, so
// concurrent commits cannot both take the last use.
func (s *Store) RecordDiscountUsage(ctx context.Context, usage pos.DiscountUsage, rule pos.DiscountRule) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if rule.HasUsageCeiling() {
		var locked models.DiscountRule
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", rule.ID).
			First(&locked).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to lock discount rule %s: %w", rule.ID, err)
		}

		if rule.MaxUsagePerCustomer != nil && usage.CustomerID != "" {
			n, err := countUsage(tx, usage.CampaignID, usage.CustomerID)
			if err != nil {
				tx.Rollback()
				return err
			}
			if n >= *rule.MaxUsagePerCustomer {
				tx.Rollback()
				return fmt.Errorf("customer %s on campaign %s: %w", usage.CustomerID, usage.CampaignID, pos.ErrUsageCeilingReached)
			}
		}
		if rule.MaxTotalUsage != nil {
			n, err := countUsage(tx, usage.CampaignID, "")
			if err != nil {
				tx.Rollback()
				return err
			}
			if n >= *rule.MaxTotalUsage {
				tx.Rollback()
				return fmt.Errorf("campaign %s: %w", usage.CampaignID, pos.ErrUsageCeilingReached)
			}
		}
	}

	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	row := models.DiscountUsage{
		ID:              usage.ID,
		CampaignID:      usage.CampaignID,
		RuleID:          usage.RuleID,
		DocumentID:      usage.OrderID,
		CustomerID:      optional(usage.CustomerID),
		DiscountAmount:  usage.Amount,
		QuantityCovered: usage.Quantity,
		CreatedAt:       usage.CreatedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record discount usage: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit discount usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsageCount(ctx context.Context, campaignID, customerID string) (int, error) {
	return countUsage(s.db.WithContext(ctx), campaignID, customerID)
}

func countUsage(db *gorm.DB, campaignID, customerID string) (int, error) {
	q := db.Model(&models.DiscountUsage{}).Where("campaign_id = ?", campaignID)
	if customerID != "" {
		q = q.Where("customer_id = ?", customerID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count discount usage: %w", err)
	}
	return int(n), nil
}

func productFromModel(p models.Product) pos.Product {
	out := pos.Product{
		ID:       p.ID,
		Name:     p.ProductName,
		Price:    p.Price,
		Category: p.Category,
		Stock:    p.Stock,
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, pos.Variant{
			ID:    v.ID,
			Name:  v.VariantName,
			Price: v.Price,
			Stock: v.Stock,
		})
	}
	return out
}

func isUniqueViolation(err error, column string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, column)
	}
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

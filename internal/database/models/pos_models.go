package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `gorm:"type:varchar(36);primaryKey"`
	ProductCode string          `gorm:"type:varchar(32);uniqueIndex;not null"`
	ProductName string          `gorm:"type:varchar(128);not null"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Category    string          `gorm:"type:varchar(64)"`
	Stock       int             `gorm:"not null;default:0;check:stock >= 0"`
	IsActive    bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Variants []ProductVariant `gorm:"foreignKey:ProductID"`
}

type ProductVariant struct {
	ID          string          `gorm:"type:varchar(36);primaryKey"`
	ProductID   string          `gorm:"type:varchar(36);index;not null"`
	VariantName string          `gorm:"type:varchar(128);not null"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Stock       int             `gorm:"not null;default:0;check:variant_stock_non_negative,stock >= 0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DiscountCampaign struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	CampaignName string    `gorm:"type:varchar(128);not null"`
	DiscountType string    `gorm:"type:varchar(32);not null"`
	Status       string    `gorm:"type:varchar(16);not null;index"`
	StartsAt     time.Time `gorm:"not null"`
	EndsAt       time.Time `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Rules []DiscountRule `gorm:"foreignKey:CampaignID"`
}

type DiscountRule struct {
	ID                  string          `gorm:"type:varchar(36);primaryKey"`
	CampaignID          string          `gorm:"type:varchar(36);index;not null"`
	ProductID           string          `gorm:"type:varchar(36);index;not null"`
	DiscountValue       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	MinQuantity         int             `gorm:"not null;default:1"`
	MaxQuantity         *int
	BuyQuantity         int `gorm:"not null;default:0"`
	GetQuantity         int `gorm:"not null;default:0"`
	MaxUsagePerCustomer *int
	MaxTotalUsage       *int
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Campaign *DiscountCampaign `gorm:"foreignKey:CampaignID"`
}

type DiscountUsage struct {
	ID              string          `gorm:"type:varchar(36);primaryKey"`
	CampaignID      string          `gorm:"type:varchar(36);index:idx_usage_campaign_customer;not null"`
	RuleID          string          `gorm:"type:varchar(36);not null"`
	DocumentID      string          `gorm:"type:varchar(36);index;not null"`
	CustomerID      *string         `gorm:"type:varchar(36);index:idx_usage_campaign_customer"`
	DiscountAmount  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	QuantityCovered int             `gorm:"not null"`
	CreatedAt       time.Time
}

type OrderDocument struct {
	ID               string          `gorm:"type:varchar(36);primaryKey"`
	DocumentNumber   string          `gorm:"type:varchar(32);uniqueIndex;not null"`
	IdempotencyToken string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	Status           string          `gorm:"type:varchar(16);not null;index"`
	CustomerID       *string         `gorm:"type:varchar(36);index"`
	CashierID        *string         `gorm:"type:varchar(36)"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	DiscountAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TotalAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	OrderItems []OrderItem `gorm:"foreignKey:DocumentID"`
	Payments   []Payment   `gorm:"foreignKey:DocumentID"`
}

type OrderItem struct {
	ID               int64           `gorm:"primaryKey;autoIncrement"`
	DocumentID       string          `gorm:"type:varchar(36);index;not null"`
	ProductID        string          `gorm:"type:varchar(36);not null"`
	VariantID        *string         `gorm:"type:varchar(36)"`
	ProductName      string          `gorm:"type:varchar(160);not null"`
	Quantity         int             `gorm:"not null"`
	UnitPrice        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ChargedUnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	FreeUnits        int             `gorm:"not null;default:0"`
	DiscountAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	LineTotal        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CampaignID       *string         `gorm:"type:varchar(36)"`
	RuleID           *string         `gorm:"type:varchar(36)"`
	CreatedAt        time.Time
}

type Payment struct {
	ID             string          `gorm:"type:varchar(36);primaryKey"`
	DocumentID     string          `gorm:"type:varchar(36);index;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Method         string          `gorm:"type:varchar(16);not null"`
	Status         string          `gorm:"type:varchar(16);not null"`
	TenderedAmount decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ChangeAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	AuthorizedBy   *string         `gorm:"type:varchar(36)"`
	CreatedAt      time.Time
}

const (
	MovementTypeSale    int32 = 1
	MovementTypeRelease int32 = 2
)

// StockMovement is the audit row written alongside every stock change.
type StockMovement struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	ProductID    string  `gorm:"type:varchar(36);index;not null"`
	VariantID    *string `gorm:"type:varchar(36)"`
	MovementType int32   `gorm:"not null"`
	Quantity     int     `gorm:"not null"`
	ReferenceID  string  `gorm:"type:varchar(64);index;not null"`
	Notes        *string `gorm:"size:255"`
	CreatedAt    time.Time
}

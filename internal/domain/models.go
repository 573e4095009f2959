package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnershipType is the single source of truth for how a product's stock is
// owned and therefore how it is valued and recognized.
type OwnershipType string

const (
	OwnershipStoreOwned OwnershipType = "STORE_OWNED"
	OwnershipConsigned  OwnershipType = "CONSIGNED"
)

func (o OwnershipType) Valid() bool {
	switch o {
	case OwnershipStoreOwned, OwnershipConsigned:
		return true
	}
	return false
}

type Product struct {
	ID               string           `json:"id"`
	SKU              string           `json:"sku"`
	Name             string           `json:"name"`
	OwnershipType    OwnershipType    `json:"ownership_type"`
	UnitCost         *decimal.Decimal `json:"unit_cost,omitempty"`
	AverageCost      *decimal.Decimal `json:"average_cost,omitempty"`
	SellPrice        decimal.Decimal  `json:"sell_price"`
	StockOnHand      int64            `json:"stock_on_hand"`
	ReorderThreshold int64            `json:"reorder_threshold"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type FeeKind string

const (
	FeePercentage FeeKind = "PERCENTAGE"
	FeeFlat       FeeKind = "FLAT"
)

// FeeModel describes what the cooperative keeps from each consigned unit sold.
// Rate is a fraction (0.20 for 20%) and only applies to PERCENTAGE; AmountPerUnit
// only applies to FLAT.
type FeeModel struct {
	Kind          FeeKind         `json:"kind"`
	Rate          decimal.Decimal `json:"rate"`
	AmountPerUnit decimal.Decimal `json:"amount_per_unit"`
}

func (f FeeModel) Valid() bool {
	switch f.Kind {
	case FeePercentage:
		return !f.Rate.IsNegative() && f.Rate.LessThanOrEqual(decimal.NewFromInt(1))
	case FeeFlat:
		return !f.AmountPerUnit.IsNegative()
	}
	return false
}

type BatchStatus string

const (
	BatchActive   BatchStatus = "ACTIVE"
	BatchDepleted BatchStatus = "DEPLETED"
	BatchExpired  BatchStatus = "EXPIRED"
)

type ConsignmentBatch struct {
	ID                string      `json:"id"`
	ConsignorID       string      `json:"consignor_id"`
	ProductID         string      `json:"product_id"`
	QuantityReceived  int64       `json:"quantity_received"`
	QuantitySold      int64       `json:"quantity_sold"`
	QuantityRemaining int64       `json:"quantity_remaining"`
	FeeModel          FeeModel    `json:"fee_model"`
	ReceivedAt        time.Time   `json:"received_at"`
	ExpiresAt         *time.Time  `json:"expires_at,omitempty"`
	Status            BatchStatus `json:"status"`
	// Seq is assigned on commit and breaks ReceivedAt ties in creation order.
	Seq       int64     `json:"seq"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the batch is past its expiry at asOf.
func (b ConsignmentBatch) ExpiredAt(asOf time.Time) bool {
	return b.ExpiresAt != nil && !asOf.Before(*b.ExpiresAt)
}

type MovementKind string

const (
	MovementPurchaseIn    MovementKind = "PURCHASE_IN"
	MovementConsignmentIn MovementKind = "CONSIGNMENT_IN"
	MovementSaleOut       MovementKind = "SALE_OUT"
	MovementAdjustment    MovementKind = "ADJUSTMENT"
)

type ReferenceType string

const (
	ReferenceSale       ReferenceType = "SALE"
	ReferencePurchase   ReferenceType = "PURCHASE"
	ReferenceBatch      ReferenceType = "BATCH"
	ReferenceAdjustment ReferenceType = "ADJUSTMENT"
)

// StockMovement is an immutable ledger entry. Quantity is signed: inbound
// kinds are positive, SALE_OUT is negative.
type StockMovement struct {
	ID            string           `json:"id"`
	Seq           int64            `json:"seq"`
	ProductID     string           `json:"product_id"`
	Kind          MovementKind     `json:"kind"`
	Quantity      int64            `json:"quantity"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	BatchID       string           `json:"batch_id,omitempty"`
	ReferenceType ReferenceType    `json:"reference_type"`
	ReferenceID   string           `json:"reference_id"`
	OccurredAt    time.Time        `json:"occurred_at"`
	RecordedAt    time.Time        `json:"recorded_at"`
}

type TransactionType string

const (
	TxSale     TransactionType = "SALE"
	TxPurchase TransactionType = "PURCHASE"
	TxIncome   TransactionType = "INCOME"
	TxExpense  TransactionType = "EXPENSE"
)

type Transaction struct {
	ID             string            `json:"id"`
	Type           TransactionType   `json:"type"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Note           string            `json:"note,omitempty"`
	ActorUsername  string            `json:"actor_username,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	CreatedAt      time.Time         `json:"created_at"`
	Lines          []TransactionLine `json:"lines,omitempty"`
}

type TransactionLine struct {
	ProductID       string                  `json:"product_id"`
	OwnershipType   OwnershipType           `json:"ownership_type"`
	Quantity        int64                   `json:"quantity"`
	UnitPrice       decimal.Decimal         `json:"unit_price"`
	TotalPrice      decimal.Decimal         `json:"total_price"`
	CostOfGoodsSold decimal.Decimal         `json:"cost_of_goods_sold"`
	GrossProfit     decimal.Decimal         `json:"gross_profit"`
	Allocations     []ConsignmentAllocation `json:"allocations,omitempty"`
}

// ConsignmentAllocation is the slice of a consigned sale line taken from one batch.
type ConsignmentAllocation struct {
	BatchID               string          `json:"batch_id"`
	ConsignorID           string          `json:"consignor_id"`
	QuantitySold          int64           `json:"quantity_sold"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	Revenue               decimal.Decimal `json:"revenue"`
	FeeAmount             decimal.Decimal `json:"fee_amount"`
	NetPayableToConsignor decimal.Decimal `json:"net_payable_to_consignor"`
}

type Summary struct {
	From             time.Time       `json:"from"`
	To               time.Time       `json:"to"`
	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalExpense     decimal.Decimal `json:"total_expense"`
	NetIncome        decimal.Decimal `json:"net_income"`
	TransactionCount int64           `json:"transaction_count"`
}

type ConsignorPayable struct {
	ConsignorID  string          `json:"consignor_id"`
	QuantitySold int64           `json:"quantity_sold"`
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	NetPayable   decimal.Decimal `json:"net_payable"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

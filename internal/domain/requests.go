package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductCreateRequest struct {
	SKU              string           `json:"sku" validate:"required,max=64"`
	Name             string           `json:"name" validate:"required,max=200"`
	OwnershipType    OwnershipType    `json:"ownership_type" validate:"required,oneof=STORE_OWNED CONSIGNED"`
	UnitCost         *decimal.Decimal `json:"unit_cost,omitempty"`
	SellPrice        decimal.Decimal  `json:"sell_price"`
	ReorderThreshold int64            `json:"reorder_threshold" validate:"gte=0"`
}

type PurchaseRequest struct {
	ProductID   string          `json:"product_id" validate:"required"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	SupplierRef string          `json:"supplier_ref,omitempty" validate:"max=120"`
	PurchasedAt *time.Time      `json:"purchased_at,omitempty"`
}

type PurchaseResponse struct {
	TransactionID string          `json:"transaction_id"`
	ProductID     string          `json:"product_id"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	StockOnHand   int64           `json:"stock_on_hand"`
}

type IntakeRequest struct {
	ConsignorID string     `json:"consignor_id" validate:"required,max=120"`
	ProductID   string     `json:"product_id" validate:"required"`
	Quantity    int64      `json:"quantity" validate:"gt=0"`
	FeeModel    FeeModel   `json:"fee_model"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type IntakeResponse struct {
	BatchID string `json:"batch_id"`
}

type SaleLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	// UnitPrice falls back to the product's sell price when omitted.
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleRequest struct {
	LineItems      []SaleLineRequest `json:"line_items" validate:"required,min=1,dive"`
	PaymentMethod  string            `json:"payment_method" validate:"omitempty,oneof=cash qris transfer card"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"max=120"`
	SoldAt         *time.Time        `json:"sold_at,omitempty"`
	AllowExpired   bool              `json:"allow_expired,omitempty"`
	ManagerPIN     string            `json:"manager_pin,omitempty"`
}

type SaleLineResponse struct {
	ProductID       string                  `json:"product_id"`
	OwnershipType   OwnershipType           `json:"ownership_type"`
	Quantity        int64                   `json:"quantity"`
	UnitPrice       decimal.Decimal         `json:"unit_price"`
	TotalPrice      decimal.Decimal         `json:"total_price"`
	CostOfGoodsSold decimal.Decimal         `json:"cost_of_goods_sold"`
	GrossProfit     decimal.Decimal         `json:"gross_profit"`
	Allocations     []ConsignmentAllocation `json:"allocations,omitempty"`
}

type SaleResponse struct {
	TransactionID string             `json:"transaction_id"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	PaymentMethod string             `json:"payment_method"`
	LineItems     []SaleLineResponse `json:"line_items"`
	Duplicate     bool               `json:"duplicate"`
	SoldAt        time.Time          `json:"sold_at"`
}

type AdjustmentRequest struct {
	ProductID       string `json:"product_id" validate:"required"`
	CountedQuantity int64  `json:"counted_quantity" validate:"gte=0"`
	Note            string `json:"note,omitempty" validate:"max=500"`
}

type AdjustmentResponse struct {
	ProductID        string `json:"product_id"`
	PreviousQuantity int64  `json:"previous_quantity"`
	CountedQuantity  int64  `json:"counted_quantity"`
	Delta            int64  `json:"delta"`
	MovementID       string `json:"movement_id,omitempty"`
}

type CashEntryRequest struct {
	Type       TransactionType `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note" validate:"required,max=500"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

type BatchReconciliation struct {
	BatchID           string `json:"batch_id"`
	QuantityReceived  int64  `json:"quantity_received"`
	QuantitySold      int64  `json:"quantity_sold"`
	QuantityRemaining int64  `json:"quantity_remaining"`
	Conserved         bool   `json:"conserved"`
}

type ReconciliationReport struct {
	ProductID     string                `json:"product_id"`
	StockOnHand   int64                 `json:"stock_on_hand"`
	LedgerBalance int64                 `json:"ledger_balance"`
	Balanced      bool                  `json:"balanced"`
	Batches       []BatchReconciliation `json:"batches,omitempty"`
}

type SweepResponse struct {
	AsOf     time.Time `json:"as_of"`
	Expired  int       `json:"expired"`
	BatchIDs []string  `json:"batch_ids"`
}

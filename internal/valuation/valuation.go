package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/store"
)

// AverageCostPlaces is the precision kept on a recomputed average cost.
const AverageCostPlaces = 4

// Service values store-owned stock at its weighted average cost.
type Service struct {
	ledger *ledger.Ledger
}

func New(l *ledger.Ledger) *Service {
	return &Service{ledger: l}
}

func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

type Purchase struct {
	ProductID  string
	Quantity   int64
	UnitCost   decimal.Decimal
	Reference  ledger.Reference
	OccurredAt time.Time
}

type Sale struct {
	ProductID  string
	Quantity   int64
	Reference  ledger.Reference
	OccurredAt time.Time
}

type SaleResult struct {
	Product         domain.Product
	UnitCost        decimal.Decimal
	CostOfGoodsSold decimal.Decimal
	Movement        domain.StockMovement
}

// OnPurchase folds the purchased units into the product's average cost and
// stock on hand, then records a PURCHASE_IN entry at the purchase cost.
func (s *Service) OnPurchase(ctx context.Context, tx store.Tx, p Purchase) (domain.Product, error) {
	if p.Quantity <= 0 {
		return domain.Product{}, fmt.Errorf("%w: purchase quantity %d", store.ErrInvalidQuantity, p.Quantity)
	}
	if p.UnitCost.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: negative unit cost", store.ErrInvalidTransaction)
	}

	product, err := store.LockProduct(ctx, tx, p.ProductID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.OwnershipType != domain.OwnershipStoreOwned {
		return domain.Product{}, fmt.Errorf("%w: product %s is %s, purchases only apply to store-owned stock", store.ErrInvalidTransaction, product.ID, product.OwnershipType)
	}

	prevAvg := decimal.Zero
	if product.AverageCost != nil {
		prevAvg = *product.AverageCost
	}
	avg := WeightedAverage(prevAvg, product.StockOnHand, p.UnitCost, p.Quantity)

	product.AverageCost = domain.DecimalPtr(avg)
	if product.UnitCost == nil {
		product.UnitCost = domain.DecimalPtr(p.UnitCost)
	}
	product.StockOnHand += p.Quantity

	if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
		ProductID:  product.ID,
		Kind:       domain.MovementPurchaseIn,
		Quantity:   p.Quantity,
		UnitCost:   &p.UnitCost,
		Reference:  p.Reference,
		OccurredAt: p.OccurredAt,
	}); err != nil {
		return domain.Product{}, err
	}
	if err := tx.UpdateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	product.Version++
	return product, nil
}

// OnSale takes quantity units out of a store-owned product at its cost basis.
func (s *Service) OnSale(ctx context.Context, tx store.Tx, sale Sale) (SaleResult, error) {
	if sale.Quantity <= 0 {
		return SaleResult{}, fmt.Errorf("%w: sale quantity %d", store.ErrInvalidQuantity, sale.Quantity)
	}

	product, err := store.LockProduct(ctx, tx, sale.ProductID)
	if err != nil {
		return SaleResult{}, err
	}
	if product.OwnershipType != domain.OwnershipStoreOwned {
		return SaleResult{}, fmt.Errorf("%w: product %s is %s", store.ErrInvalidTransaction, product.ID, product.OwnershipType)
	}
	if sale.Quantity > product.StockOnHand {
		return SaleResult{}, store.InsufficientStock(product.ID, sale.Quantity, product.StockOnHand)
	}

	unitCost := CostBasis(product)
	product.StockOnHand -= sale.Quantity

	movement, err := s.ledger.Record(ctx, tx, ledger.Entry{
		ProductID:  product.ID,
		Kind:       domain.MovementSaleOut,
		Quantity:   -sale.Quantity,
		UnitCost:   &unitCost,
		Reference:  sale.Reference,
		OccurredAt: sale.OccurredAt,
	})
	if err != nil {
		return SaleResult{}, err
	}
	if err := tx.UpdateProduct(ctx, product); err != nil {
		return SaleResult{}, err
	}
	product.Version++

	return SaleResult{
		Product:         product,
		UnitCost:        unitCost,
		CostOfGoodsSold: unitCost.Mul(decimal.NewFromInt(sale.Quantity)),
		Movement:        movement,
	}, nil
}

// WeightedAverage returns (prevAvg*prevQty + unitCost*qty) / (prevQty + qty).
// Negative prior stock counts as none.
func WeightedAverage(prevAvg decimal.Decimal, prevQty int64, unitCost decimal.Decimal, qty int64) decimal.Decimal {
	if prevQty < 0 {
		prevQty = 0
	}
	total := decimal.NewFromInt(prevQty + qty)
	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	num := prevAvg.Mul(decimal.NewFromInt(prevQty)).Add(unitCost.Mul(decimal.NewFromInt(qty)))
	return num.DivRound(total, AverageCostPlaces)
}

// CostBasis is the per-unit cost of a store-owned product: the average cost,
// then the unit cost, then zero.
func CostBasis(p domain.Product) decimal.Decimal {
	switch {
	case p.AverageCost != nil:
		return *p.AverageCost
	case p.UnitCost != nil:
		return *p.UnitCost
	default:
		return decimal.Zero
	}
}

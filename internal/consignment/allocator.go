package consignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

type ExpiryPolicy string

const (
	PolicyForbid ExpiryPolicy = "forbid"
	PolicyAllow  ExpiryPolicy = "allow"
)

func ParsePolicy(raw string) ExpiryPolicy {
	if strings.EqualFold(strings.TrimSpace(raw), string(PolicyAllow)) {
		return PolicyAllow
	}
	return PolicyForbid
}

// Allocator owns consignment batches: it creates them on intake and is the only
// writer of their quantities and status afterwards.
type Allocator struct {
	ledger *ledger.Ledger
	policy ExpiryPolicy
	log    *logrus.Logger
}

func NewAllocator(l *ledger.Ledger, policy ExpiryPolicy, log *logrus.Logger) *Allocator {
	if policy == "" {
		policy = PolicyForbid
	}
	return &Allocator{ledger: l, policy: policy, log: log}
}

func (a *Allocator) Policy() ExpiryPolicy {
	return a.policy
}

type Intake struct {
	ConsignorID string
	ProductID   string
	Quantity    int64
	FeeModel    domain.FeeModel
	ReceivedAt  time.Time
	ExpiresAt   *time.Time
}

func (a *Allocator) Intake(ctx context.Context, tx store.Tx, in Intake) (domain.ConsignmentBatch, error) {
	if in.Quantity <= 0 {
		return domain.ConsignmentBatch{}, fmt.Errorf("%w: intake quantity %d", store.ErrInvalidQuantity, in.Quantity)
	}
	if strings.TrimSpace(in.ConsignorID) == "" {
		return domain.ConsignmentBatch{}, fmt.Errorf("%w: consignor is required", store.ErrInvalidTransaction)
	}
	if !in.FeeModel.Valid() {
		return domain.ConsignmentBatch{}, fmt.Errorf("%w: invalid fee model", store.ErrInvalidTransaction)
	}
	if in.ReceivedAt.IsZero() {
		return domain.ConsignmentBatch{}, fmt.Errorf("%w: received_at is required", store.ErrInvalidTransaction)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(in.ReceivedAt) {
		return domain.ConsignmentBatch{}, fmt.Errorf("%w: batch would expire before it was received", store.ErrInvalidTransaction)
	}

	product, err := store.LockProduct(ctx, tx, in.ProductID)
	if err != nil {
		return domain.ConsignmentBatch{}, err
	}
	if product.OwnershipType != domain.OwnershipConsigned {
		return domain.ConsignmentBatch{}, fmt.Errorf("%w: product %s is %s, intake only applies to consigned stock", store.ErrInvalidTransaction, product.ID, product.OwnershipType)
	}

	batch := domain.ConsignmentBatch{
		ID:                xid.New("bat"),
		ConsignorID:       strings.TrimSpace(in.ConsignorID),
		ProductID:         product.ID,
		QuantityReceived:  in.Quantity,
		QuantityRemaining: in.Quantity,
		FeeModel:          in.FeeModel,
		ReceivedAt:        in.ReceivedAt.UTC(),
		Status:            domain.BatchActive,
	}
	if in.ExpiresAt != nil {
		expires := in.ExpiresAt.UTC()
		batch.ExpiresAt = &expires
	}
	if err := tx.CreateBatch(ctx, batch); err != nil {
		return domain.ConsignmentBatch{}, err
	}

	if _, err := a.ledger.Record(ctx, tx, ledger.Entry{
		ProductID:  product.ID,
		Kind:       domain.MovementConsignmentIn,
		Quantity:   in.Quantity,
		BatchID:    batch.ID,
		Reference:  ledger.Reference{Type: domain.ReferenceBatch, ID: batch.ID},
		OccurredAt: batch.ReceivedAt,
	}); err != nil {
		return domain.ConsignmentBatch{}, err
	}

	product.StockOnHand += in.Quantity
	if err := tx.UpdateProduct(ctx, product); err != nil {
		return domain.ConsignmentBatch{}, err
	}
	return batch, nil
}

type AllocateInput struct {
	ProductID string
	Quantity  int64
	UnitPrice decimal.Decimal
	AsOf      time.Time
	// AllowExpired overrides a forbid policy for this allocation only.
	AllowExpired bool
	Reference    ledger.Reference
	OccurredAt   time.Time
}

type Result struct {
	Product     domain.Product
	Allocations []domain.ConsignmentAllocation
	FeeTotal    decimal.Decimal
}

// Allocate plans a FIFO draw over the product's batches and then commits it:
// batch quantities, one SALE_OUT per batch touched, and the product's stock.
// A plan that cannot be satisfied fails before anything is written.
func (a *Allocator) Allocate(ctx context.Context, tx store.Tx, in AllocateInput) (Result, error) {
	if in.Quantity <= 0 {
		return Result{}, fmt.Errorf("%w: allocation quantity %d", store.ErrInvalidQuantity, in.Quantity)
	}
	if in.UnitPrice.IsNegative() {
		return Result{}, fmt.Errorf("%w: negative unit price", store.ErrInvalidTransaction)
	}

	product, err := store.LockProduct(ctx, tx, in.ProductID)
	if err != nil {
		return Result{}, err
	}
	if product.OwnershipType != domain.OwnershipConsigned {
		return Result{}, fmt.Errorf("%w: product %s is %s", store.ErrInvalidTransaction, product.ID, product.OwnershipType)
	}

	batches, err := tx.LockBatches(ctx, product.ID)
	if err != nil {
		return Result{}, err
	}

	allowExpired := a.policy == PolicyAllow || in.AllowExpired
	plan, err := BuildPlan(product.ID, batches, in.Quantity, in.AsOf, allowExpired)
	if err != nil {
		return Result{}, err
	}

	result := Result{FeeTotal: decimal.Zero}
	for _, take := range plan.Takes {
		batch := take.Batch
		if allowExpired && batch.ExpiredAt(in.AsOf) {
			a.log.WithFields(logrus.Fields{
				"batch_id":   batch.ID,
				"product_id": product.ID,
				"quantity":   take.Quantity,
			}).Warn("selling through expired consignment batch")
		}

		batch.QuantityRemaining -= take.Quantity
		batch.QuantitySold += take.Quantity
		if batch.QuantityRemaining == 0 {
			batch.Status = domain.BatchDepleted
		}
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return Result{}, err
		}

		unitFee := UnitFee(batch.FeeModel, in.UnitPrice)
		if _, err := a.ledger.Record(ctx, tx, ledger.Entry{
			ProductID:  product.ID,
			Kind:       domain.MovementSaleOut,
			Quantity:   -take.Quantity,
			UnitCost:   &unitFee,
			BatchID:    batch.ID,
			Reference:  in.Reference,
			OccurredAt: in.OccurredAt,
		}); err != nil {
			return Result{}, err
		}

		split := Split(batch, in.UnitPrice, take.Quantity)
		result.Allocations = append(result.Allocations, split)
		result.FeeTotal = result.FeeTotal.Add(split.FeeAmount)
	}

	product.StockOnHand -= plan.Total()
	if err := tx.UpdateProduct(ctx, product); err != nil {
		return Result{}, err
	}
	product.Version++
	result.Product = product
	return result, nil
}

// SweepExpired moves ACTIVE batches that still hold stock and are past their
// expiry at asOf to EXPIRED. Running it twice changes nothing the second time.
func (a *Allocator) SweepExpired(ctx context.Context, tx store.Tx, asOf time.Time) ([]string, error) {
	active, err := tx.ListBatches(ctx, "", domain.BatchActive)
	if err != nil {
		return nil, err
	}

	expired := make([]string, 0)
	for _, batch := range active {
		if batch.QuantityRemaining < 1 || !batch.ExpiredAt(asOf) {
			continue
		}
		batch.Status = domain.BatchExpired
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return nil, err
		}
		expired = append(expired, batch.ID)
	}

	if len(expired) > 0 {
		a.log.WithFields(logrus.Fields{
			"as_of":   asOf.Format(time.RFC3339),
			"expired": len(expired),
		}).Info("consignment batches expired")
	}
	return expired, nil
}

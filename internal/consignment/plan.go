package consignment

import (
	"slices"
	"strings"
	"time"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

type Take struct {
	Batch    domain.ConsignmentBatch
	Quantity int64
}

// Plan is the ordered list of batch takes that satisfies one allocation.
// Building a plan never mutates anything.
type Plan struct {
	ProductID string
	Takes     []Take
}

func (p Plan) Total() int64 {
	var total int64
	for _, take := range p.Takes {
		total += take.Quantity
	}
	return total
}

// Eligible reports whether batch may be sold from at asOf. Stock received
// after asOf does not exist yet.
func Eligible(b domain.ConsignmentBatch, asOf time.Time, allowExpired bool) bool {
	if b.QuantityRemaining < 1 || b.ReceivedAt.After(asOf) {
		return false
	}
	switch b.Status {
	case domain.BatchActive:
		return allowExpired || !b.ExpiredAt(asOf)
	case domain.BatchExpired:
		return allowExpired
	}
	return false
}

// BuildPlan walks batches oldest first and takes from each until needed is
// covered. When the eligible remainder falls short it fails with
// ErrInsufficientStock, or with ErrBatchExpired if expired stock alone would
// have covered the gap.
func BuildPlan(productID string, batches []domain.ConsignmentBatch, needed int64, asOf time.Time, allowExpired bool) (Plan, error) {
	ordered := slices.Clone(batches)
	slices.SortStableFunc(ordered, fifoOrder)

	var available, expired int64
	eligible := make([]domain.ConsignmentBatch, 0, len(ordered))
	for _, b := range ordered {
		if b.ProductID != productID {
			continue
		}
		if Eligible(b, asOf, allowExpired) {
			eligible = append(eligible, b)
			available += b.QuantityRemaining
			continue
		}
		if b.ReceivedAt.After(asOf) {
			continue
		}
		if b.QuantityRemaining > 0 && b.Status != domain.BatchDepleted {
			expired += b.QuantityRemaining
		}
	}

	if available < needed {
		if expired > 0 && available+expired >= needed {
			return Plan{}, &store.StockError{Kind: store.ErrBatchExpired, ProductID: productID, Requested: needed, Available: available}
		}
		return Plan{}, store.InsufficientStock(productID, needed, available)
	}

	plan := Plan{ProductID: productID}
	remaining := needed
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.QuantityRemaining)
		plan.Takes = append(plan.Takes, Take{Batch: b, Quantity: take})
		remaining -= take
	}
	return plan, nil
}

func fifoOrder(a domain.ConsignmentBatch, b domain.ConsignmentBatch) int {
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

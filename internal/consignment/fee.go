package consignment

import (
	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
)

// FeePlaces is the precision fees and payables are rounded to.
const FeePlaces = 2

// ComputeFee returns what the cooperative keeps from qty units sold at unitPrice.
func ComputeFee(fee domain.FeeModel, unitPrice decimal.Decimal, qty int64) decimal.Decimal {
	units := decimal.NewFromInt(qty)
	switch fee.Kind {
	case domain.FeePercentage:
		return unitPrice.Mul(units).Mul(fee.Rate).Round(FeePlaces)
	case domain.FeeFlat:
		return fee.AmountPerUnit.Mul(units).Round(FeePlaces)
	}
	return decimal.Zero
}

// UnitFee is the fee attributable to a single unit, used as the ledger unit cost.
func UnitFee(fee domain.FeeModel, unitPrice decimal.Decimal) decimal.Decimal {
	switch fee.Kind {
	case domain.FeePercentage:
		return unitPrice.Mul(fee.Rate)
	case domain.FeeFlat:
		return fee.AmountPerUnit
	}
	return decimal.Zero
}

// Split builds the allocation record for qty units taken from batch.
func Split(batch domain.ConsignmentBatch, unitPrice decimal.Decimal, qty int64) domain.ConsignmentAllocation {
	revenue := unitPrice.Mul(decimal.NewFromInt(qty))
	fee := ComputeFee(batch.FeeModel, unitPrice, qty)
	return domain.ConsignmentAllocation{
		BatchID:               batch.ID,
		ConsignorID:           batch.ConsignorID,
		QuantitySold:          qty,
		UnitPrice:             unitPrice,
		Revenue:               revenue,
		FeeAmount:             fee,
		NetPayableToConsignor: revenue.Sub(fee),
	}
}

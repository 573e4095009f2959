package finance

import (
	"time"

	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
)

// Recognize returns the income and expense one transaction contributes.
//
// A sale is income in full; only the fees owed on its consigned lines are
// expense, since store-owned stock was expensed when it was purchased. A
// purchase expenses its store-owned lines, or its whole amount when it carries
// no lines. Manual entries count in full on their own side.
func Recognize(t domain.Transaction) (income decimal.Decimal, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero

	switch t.Type {
	case domain.TxSale:
		income = t.Amount
		for _, line := range t.Lines {
			if line.OwnershipType == domain.OwnershipConsigned {
				expense = expense.Add(line.CostOfGoodsSold)
			}
		}
	case domain.TxPurchase:
		if len(t.Lines) == 0 {
			expense = t.Amount
			break
		}
		for _, line := range t.Lines {
			if line.OwnershipType == domain.OwnershipStoreOwned {
				expense = expense.Add(line.TotalPrice)
			}
		}
	case domain.TxIncome:
		income = t.Amount
	case domain.TxExpense:
		expense = t.Amount
	}
	return income, expense
}

// Summarize aggregates the transactions that fall in [from, to). It keeps no
// state, so re-running it over the same history gives the same answer.
func Summarize(txs []domain.Transaction, from time.Time, to time.Time) domain.Summary {
	summary := domain.Summary{
		From:         from,
		To:           to,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		NetIncome:    decimal.Zero,
	}
	if !from.Before(to) {
		return summary
	}

	for _, t := range txs {
		if t.OccurredAt.Before(from) || !t.OccurredAt.Before(to) {
			continue
		}
		income, expense := Recognize(t)
		summary.TotalIncome = summary.TotalIncome.Add(income)
		summary.TotalExpense = summary.TotalExpense.Add(expense)
		summary.TransactionCount++
	}
	summary.NetIncome = summary.TotalIncome.Sub(summary.TotalExpense)
	return summary
}

// Payables totals what each consignor is owed from the sales given.
func Payables(txs []domain.Transaction) []domain.ConsignorPayable {
	byConsignor := make(map[string]*domain.ConsignorPayable)
	order := make([]string, 0)

	for _, t := range txs {
		if t.Type != domain.TxSale {
			continue
		}
		for _, line := range t.Lines {
			for _, alloc := range line.Allocations {
				row, ok := byConsignor[alloc.ConsignorID]
				if !ok {
					row = &domain.ConsignorPayable{
						ConsignorID:  alloc.ConsignorID,
						GrossRevenue: decimal.Zero,
						FeeAmount:    decimal.Zero,
						NetPayable:   decimal.Zero,
					}
					byConsignor[alloc.ConsignorID] = row
					order = append(order, alloc.ConsignorID)
				}
				row.QuantitySold += alloc.QuantitySold
				row.GrossRevenue = row.GrossRevenue.Add(alloc.Revenue)
				row.FeeAmount = row.FeeAmount.Add(alloc.FeeAmount)
				row.NetPayable = row.NetPayable.Add(alloc.NetPayableToConsignor)
			}
		}
	}

	result := make([]domain.ConsignorPayable, 0, len(order))
	for _, id := range order {
		result = append(result, *byConsignor[id])
	}
	return result
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/valuation"
	"koperasi/backend/internal/xid"
)

// RecordPurchase brings store-owned stock in and books the purchase as a
// PURCHASE transaction carrying one store-owned line.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	req.ProductID = trimmed(req.ProductID)
	req.SupplierRef = trimmed(req.SupplierRef)
	if err := checkRequest(s.validate, req); err != nil {
		return domain.PurchaseResponse{}, err
	}
	if req.UnitCost.IsNegative() {
		return domain.PurchaseResponse{}, fmt.Errorf("%w: negative unit cost", store.ErrInvalidTransaction)
	}

	purchasedAt := s.timeOrNow(req.PurchasedAt)
	var (
		product  domain.Product
		recorded domain.Transaction
	)
	err = s.write(ctx, []string{req.ProductID}, func(ctx context.Context, tx store.Tx) error {
		txID := xid.New("pur")
		updated, err := s.valuation.OnPurchase(ctx, tx, valuation.Purchase{
			ProductID:  req.ProductID,
			Quantity:   req.Quantity,
			UnitCost:   req.UnitCost,
			Reference:  ledger.Reference{Type: domain.ReferencePurchase, ID: txID},
			OccurredAt: purchasedAt,
		})
		if err != nil {
			return err
		}

		total := req.UnitCost.Mul(decimal.NewFromInt(req.Quantity))
		t := domain.Transaction{
			ID:            txID,
			Type:          domain.TxPurchase,
			Amount:        total,
			Note:          req.SupplierRef,
			ActorUsername: actor.Username,
			OccurredAt:    purchasedAt,
			CreatedAt:     s.now(),
			Lines: []domain.TransactionLine{{
				ProductID:       updated.ID,
				OwnershipType:   domain.OwnershipStoreOwned,
				Quantity:        req.Quantity,
				UnitPrice:       req.UnitCost,
				TotalPrice:      total,
				CostOfGoodsSold: decimal.Zero,
				GrossProfit:     decimal.Zero,
			}},
		}
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return err
		}
		product, recorded = updated, t
		return nil
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.finance.TransactionCommitted(ctx, recorded)
	s.log.WithFields(logrus.Fields{
		"transaction_id": recorded.ID,
		"product_id":     product.ID,
		"quantity":       req.Quantity,
		"average_cost":   product.AverageCost.String(),
	}).Info("purchase recorded")

	return domain.PurchaseResponse{
		TransactionID: recorded.ID,
		ProductID:     product.ID,
		AverageCost:   *product.AverageCost,
		StockOnHand:   product.StockOnHand,
	}, nil
}

func (s *Service) IntakeConsignment(ctx context.Context, req domain.IntakeRequest) (domain.IntakeResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.IntakeResponse{}, err
	}
	req.ProductID = trimmed(req.ProductID)
	req.ConsignorID = trimmed(req.ConsignorID)
	if err := checkRequest(s.validate, req); err != nil {
		return domain.IntakeResponse{}, err
	}

	var batch domain.ConsignmentBatch
	err := s.write(ctx, []string{req.ProductID}, func(ctx context.Context, tx store.Tx) error {
		var err error
		batch, err = s.allocator.Intake(ctx, tx, consignment.Intake{
			ConsignorID: req.ConsignorID,
			ProductID:   req.ProductID,
			Quantity:    req.Quantity,
			FeeModel:    req.FeeModel,
			ReceivedAt:  s.timeOrNow(req.ReceivedAt),
			ExpiresAt:   req.ExpiresAt,
		})
		return err
	})
	if err != nil {
		return domain.IntakeResponse{}, err
	}

	s.log.WithFields(logrus.Fields{
		"batch_id":     batch.ID,
		"consignor_id": batch.ConsignorID,
		"product_id":   batch.ProductID,
		"quantity":     batch.QuantityReceived,
	}).Info("consignment batch received")
	return domain.IntakeResponse{BatchID: batch.ID}, nil
}

// AdjustStock records a stock count for a store-owned product as an ADJUSTMENT
// of the difference. Consigned stock is only ever corrected through its batches.
func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustmentRequest) (domain.AdjustmentResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}
	req.ProductID = trimmed(req.ProductID)
	if err := checkRequest(s.validate, req); err != nil {
		return domain.AdjustmentResponse{}, err
	}

	var resp domain.AdjustmentResponse
	err = s.write(ctx, []string{req.ProductID}, func(ctx context.Context, tx store.Tx) error {
		product, err := store.LockProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if product.OwnershipType != domain.OwnershipStoreOwned {
			return fmt.Errorf("%w: product %s is consigned; stock follows its batches", store.ErrInvalidTransaction, product.ID)
		}

		resp = domain.AdjustmentResponse{
			ProductID:        product.ID,
			PreviousQuantity: product.StockOnHand,
			CountedQuantity:  req.CountedQuantity,
			Delta:            req.CountedQuantity - product.StockOnHand,
		}
		if resp.Delta == 0 {
			return nil
		}

		cost := valuation.CostBasis(product)
		movement, err := s.valuation.Ledger().Record(ctx, tx, ledger.Entry{
			ProductID:  product.ID,
			Kind:       domain.MovementAdjustment,
			Quantity:   resp.Delta,
			UnitCost:   &cost,
			Reference:  ledger.Reference{Type: domain.ReferenceAdjustment, ID: xid.New("adj")},
			OccurredAt: s.now(),
		})
		if err != nil {
			return err
		}
		resp.MovementID = movement.ID

		product.StockOnHand = req.CountedQuantity
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}

	if resp.Delta != 0 {
		s.log.WithFields(logrus.Fields{
			"product_id": resp.ProductID,
			"delta":      resp.Delta,
			"actor":      actor.Username,
			"note":       req.Note,
		}).Info("stock adjusted")
	}
	return resp, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string, status string) ([]domain.ConsignmentBatch, error) {
	statuses := make([]domain.BatchStatus, 0, 1)
	switch st := domain.BatchStatus(trimmed(status)); st {
	case "":
	case domain.BatchActive, domain.BatchDepleted, domain.BatchExpired:
		statuses = append(statuses, st)
	default:
		return nil, fmt.Errorf("%w: unknown batch status %q", store.ErrInvalidTransaction, status)
	}

	var batches []domain.ConsignmentBatch
	err := s.read(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		batches, err = r.ListBatches(ctx, trimmed(productID), statuses...)
		return err
	})
	return batches, err
}

func (s *Service) SweepExpired(ctx context.Context, asOf time.Time) (domain.SweepResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SweepResponse{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	var ids []string
	err := s.write(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = s.allocator.SweepExpired(ctx, tx, asOf)
		return err
	})
	if err != nil {
		logError(s.log, "SweepExpired", err, logrus.Fields{"as_of": asOf})
		return domain.SweepResponse{}, err
	}
	return domain.SweepResponse{AsOf: asOf.UTC(), Expired: len(ids), BatchIDs: ids}, nil
}

func (s *Service) LedgerEntries(ctx context.Context, productID string, from time.Time, to time.Time) ([]domain.StockMovement, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	productID = trimmed(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product_id is required", store.ErrInvalidTransaction)
	}

	var entries []domain.StockMovement
	err := s.read(ctx, func(ctx context.Context, r store.Reader) error {
		if _, err := r.GetProduct(ctx, productID); err != nil {
			return err
		}
		seq, err := ledger.EntriesFor(ctx, r, productID, from, to)
		if err != nil {
			return err
		}
		entries = seq.Entries()
		return nil
	})
	return entries, err
}

// Reconcile compares each product's stock on hand with its ledger balance and
// checks every batch for conservation. An empty productID covers all products.
func (s *Service) Reconcile(ctx context.Context, productID string) ([]domain.ReconciliationReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	productID = trimmed(productID)

	reports := make([]domain.ReconciliationReport, 0)
	err := s.read(ctx, func(ctx context.Context, r store.Reader) error {
		var products []domain.Product
		if productID != "" {
			p, err := r.GetProduct(ctx, productID)
			if err != nil {
				return err
			}
			products = []domain.Product{*p}
		} else {
			var err error
			if products, err = r.ListProducts(ctx); err != nil {
				return err
			}
		}

		for _, p := range products {
			seq, err := ledger.EntriesFor(ctx, r, p.ID, time.Time{}, time.Time{})
			if err != nil {
				return err
			}
			report := domain.ReconciliationReport{
				ProductID:     p.ID,
				StockOnHand:   p.StockOnHand,
				LedgerBalance: seq.Balance(),
			}
			report.Balanced = report.StockOnHand == report.LedgerBalance

			if p.OwnershipType == domain.OwnershipConsigned {
				batches, err := r.ListBatches(ctx, p.ID)
				if err != nil {
					return err
				}
				perBatch := seq.BalanceByBatch()
				for _, b := range batches {
					conserved := b.QuantityRemaining >= 0 &&
						b.QuantityReceived == b.QuantitySold+b.QuantityRemaining &&
						perBatch[b.ID] == b.QuantityRemaining
					report.Batches = append(report.Batches, domain.BatchReconciliation{
						BatchID:           b.ID,
						QuantityReceived:  b.QuantityReceived,
						QuantitySold:      b.QuantitySold,
						QuantityRemaining: b.QuantityRemaining,
						Conserved:         conserved,
					})
					report.Balanced = report.Balanced && conserved
				}
			}
			if !report.Balanced {
				s.log.WithFields(logrus.Fields{
					"product_id":     p.ID,
					"stock_on_hand":  report.StockOnHand,
					"ledger_balance": report.LedgerBalance,
				}).Error("stock does not reconcile with ledger")
			}
			reports = append(reports, report)
		}
		return nil
	})
	return reports, err
}

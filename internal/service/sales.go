package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/sale"
	"koperasi/backend/internal/store"
)

// Checkout runs a sale for a cashier or admin. Selling through expired
// consignment stock under a forbid policy needs a valid manager PIN.
func (s *Service) Checkout(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	req.PaymentMethod = strings.ToLower(trimmed(req.PaymentMethod))
	req.IdempotencyKey = trimmed(req.IdempotencyKey)
	if err := checkRequest(s.validate, req); err != nil {
		return domain.SaleResponse{}, err
	}

	allowExpired := false
	if req.AllowExpired && s.allocator.Policy() == consignment.PolicyForbid {
		if s.pins == nil || !s.pins.ValidateManagerPIN(req.ManagerPIN) {
			s.log.WithFields(logrus.Fields{"actor": actor.Username}).Warn("expired stock override rejected")
			return domain.SaleResponse{}, ErrManagerPINRequired
		}
		allowExpired = true
	}

	lines := make([]sale.Line, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		lines = append(lines, sale.Line{
			ProductID: trimmed(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	soldAt := s.timeOrNow(req.SoldAt)
	resp, err := s.sales.Execute(ctx, sale.Request{
		Lines:          lines,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		SoldAt:         soldAt,
		AllowExpired:   allowExpired,
		Actor:          actor.Username,
	})
	if err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			logError(s.log, "Checkout", err, logrus.Fields{"actor": actor.Username})
		}
		return domain.SaleResponse{}, err
	}
	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleResponse, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.SaleResponse{}, err
	}

	var found domain.Transaction
	err := s.read(ctx, func(ctx context.Context, r store.Reader) error {
		t, err := r.FindTransactionByID(ctx, trimmed(id))
		if err != nil {
			return err
		}
		found = *t
		return nil
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if found.Type != domain.TxSale {
		return domain.SaleResponse{}, notFoundf("sale %s", id)
	}
	return sale.ResponseFrom(found, false), nil
}

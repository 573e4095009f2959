package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/finance"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

// RecordCashEntry books a manual INCOME or EXPENSE in the cashbook.
func (s *Service) RecordCashEntry(ctx context.Context, req domain.CashEntryRequest) (domain.Transaction, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	req.Type = domain.TransactionType(strings.ToUpper(trimmed(string(req.Type))))
	req.Note = trimmed(req.Note)
	if err := checkRequest(s.validate, req); err != nil {
		return domain.Transaction{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Transaction{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}

	prefix := "inc"
	if req.Type == domain.TxExpense {
		prefix = "exp"
	}
	t := domain.Transaction{
		ID:            xid.New(prefix),
		Type:          req.Type,
		Amount:        req.Amount,
		Note:          req.Note,
		ActorUsername: actor.Username,
		OccurredAt:    s.timeOrNow(req.OccurredAt),
		CreatedAt:     s.now(),
	}
	err = s.write(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateTransaction(ctx, t)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.finance.TransactionCommitted(ctx, t)
	s.log.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"type":           t.Type,
		"amount":         t.Amount.String(),
	}).Info("cash entry recorded")
	return t, nil
}

func (s *Service) Summary(ctx context.Context, from time.Time, to time.Time) (domain.Summary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Summary{}, err
	}
	return s.finance.Summarize(ctx, from, to)
}

func (s *Service) SummaryForPeriod(ctx context.Context, period string, anchor time.Time) (domain.Summary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Summary{}, err
	}
	return s.finance.SummarizePeriod(ctx, finance.Period(strings.ToLower(trimmed(period))), anchor)
}

func (s *Service) ConsignorPayables(ctx context.Context, from time.Time, to time.Time) ([]domain.ConsignorPayable, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.finance.ConsignorPayables(ctx, from, to)
}

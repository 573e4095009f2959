package sale

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/lock"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/valuation"
	"koperasi/backend/internal/xid"
)

// CommitListener is told about every transaction the engine commits.
type CommitListener interface {
	TransactionCommitted(ctx context.Context, t domain.Transaction)
}

type Line struct {
	ProductID string
	Quantity  int64
	// UnitPrice defaults to the product's sell price.
	UnitPrice *decimal.Decimal
}

type Request struct {
	Lines          []Line
	PaymentMethod  string
	IdempotencyKey string
	SoldAt         time.Time
	// AllowExpired lets consigned lines draw from expired batches. Callers
	// authorize it before setting it.
	AllowExpired bool
	Actor        string
}

// Engine turns a multi-line sale into one unit of work: every line is valued
// or allocated, and the sale commits whole or not at all.
type Engine struct {
	store       store.Store
	valuation   *valuation.Service
	allocator   *consignment.Allocator
	locker      lock.Locker
	listeners   []CommitListener
	maxAttempts int
	now         func() time.Time
	log         *logrus.Logger
}

func New(repo store.Store, val *valuation.Service, alloc *consignment.Allocator, log *logrus.Logger) *Engine {
	return &Engine{
		store:       repo,
		valuation:   val,
		allocator:   alloc,
		locker:      lock.Noop{},
		maxAttempts: store.DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

func (e *Engine) WithLocker(l lock.Locker) *Engine {
	e.locker = l
	return e
}

func (e *Engine) WithListener(l CommitListener) *Engine {
	e.listeners = append(e.listeners, l)
	return e
}

func (e *Engine) WithMaxAttempts(n int) *Engine {
	e.maxAttempts = n
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Execute(ctx context.Context, req Request) (domain.SaleResponse, error) {
	if err := validate(req); err != nil {
		return domain.SaleResponse{}, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if existing, ok, err := e.findByKey(ctx, key); err != nil {
			return domain.SaleResponse{}, err
		} else if ok {
			return ResponseFrom(existing, true), nil
		}
	}

	soldAt := req.SoldAt.UTC()
	if req.SoldAt.IsZero() {
		soldAt = e.now()
	}
	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = "cash"
	}

	productIDs := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	slices.Sort(productIDs)
	productIDs = slices.Compact(productIDs)

	lockKeys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		lockKeys = append(lockKeys, lock.StockKey(id))
	}
	release := e.locker.Acquire(ctx, lockKeys)
	defer release()

	var (
		committed domain.Transaction
		duplicate bool
	)
	err := store.RetryOnConflict(ctx, e.maxAttempts, func(attempt int) error {
		if attempt > 1 {
			e.log.WithFields(logrus.Fields{"attempt": attempt, "products": productIDs}).Warn("retrying sale after concurrent modification")
		}
		duplicate = false
		return e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if key != "" {
				existing, err := tx.FindTransactionByIdempotency(ctx, key)
				if err == nil {
					committed, duplicate = *existing, true
					return nil
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}

			t, err := e.apply(ctx, tx, req, productIDs, soldAt, paymentMethod, key)
			if err != nil {
				return err
			}
			committed = t
			return nil
		})
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{"products": productIDs, "lines": len(req.Lines)}).WithError(err).Warn("sale rejected")
		return domain.SaleResponse{}, err
	}
	if duplicate {
		return ResponseFrom(committed, true), nil
	}

	for _, l := range e.listeners {
		l.TransactionCommitted(ctx, committed)
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": committed.ID,
		"amount":         committed.Amount.String(),
		"lines":          len(committed.Lines),
		"actor":          committed.ActorUsername,
	}).Info("sale committed")
	return ResponseFrom(committed, false), nil
}

func (e *Engine) apply(ctx context.Context, tx store.Tx, req Request, productIDs []string, soldAt time.Time, paymentMethod string, key string) (domain.Transaction, error) {
	products, err := tx.LockProducts(ctx, productIDs)
	if err != nil {
		return domain.Transaction{}, err
	}

	txID := xid.New("sale")
	ref := ledger.Reference{Type: domain.ReferenceSale, ID: txID}
	total := decimal.Zero
	lines := make([]domain.TransactionLine, 0, len(req.Lines))

	for _, item := range req.Lines {
		product := products[item.ProductID]
		unitPrice := product.SellPrice
		if item.UnitPrice != nil {
			unitPrice = *item.UnitPrice
		}

		line := domain.TransactionLine{
			ProductID:     product.ID,
			OwnershipType: product.OwnershipType,
			Quantity:      item.Quantity,
			UnitPrice:     unitPrice,
			TotalPrice:    unitPrice.Mul(decimal.NewFromInt(item.Quantity)),
		}

		switch product.OwnershipType {
		case domain.OwnershipStoreOwned:
			res, err := e.valuation.OnSale(ctx, tx, valuation.Sale{
				ProductID:  product.ID,
				Quantity:   item.Quantity,
				Reference:  ref,
				OccurredAt: soldAt,
			})
			if err != nil {
				return domain.Transaction{}, err
			}
			line.CostOfGoodsSold = res.CostOfGoodsSold
		case domain.OwnershipConsigned:
			res, err := e.allocator.Allocate(ctx, tx, consignment.AllocateInput{
				ProductID:    product.ID,
				Quantity:     item.Quantity,
				UnitPrice:    unitPrice,
				AsOf:         soldAt,
				AllowExpired: req.AllowExpired,
				Reference:    ref,
				OccurredAt:   soldAt,
			})
			if err != nil {
				return domain.Transaction{}, err
			}
			line.CostOfGoodsSold = res.FeeTotal
			line.Allocations = res.Allocations
		default:
			return domain.Transaction{}, fmt.Errorf("%w: product %s has unknown ownership %q", store.ErrInvalidTransaction, product.ID, product.OwnershipType)
		}

		line.GrossProfit = line.TotalPrice.Sub(line.CostOfGoodsSold)
		total = total.Add(line.TotalPrice)
		lines = append(lines, line)
	}

	t := domain.Transaction{
		ID:             txID,
		Type:           domain.TxSale,
		IdempotencyKey: key,
		PaymentMethod:  paymentMethod,
		Amount:         total,
		ActorUsername:  req.Actor,
		OccurredAt:     soldAt,
		CreatedAt:      e.now(),
		Lines:          lines,
	}
	if err := tx.CreateTransaction(ctx, t); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func (e *Engine) findByKey(ctx context.Context, key string) (domain.Transaction, bool, error) {
	var found domain.Transaction
	err := e.store.Snapshot(ctx, func(ctx context.Context, r store.Reader) error {
		t, err := r.FindTransactionByIdempotency(ctx, key)
		if err != nil {
			return err
		}
		found = *t
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, err
	}
	return found, true, nil
}

func validate(req Request) error {
	if len(req.Lines) == 0 {
		return fmt.Errorf("%w: sale has no line items", store.ErrInvalidTransaction)
	}
	for i, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: line %d has no product", store.ErrInvalidTransaction, i+1)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity %d", store.ErrInvalidQuantity, i+1, line.Quantity)
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative price", store.ErrInvalidTransaction, i+1)
		}
	}
	return nil
}

// ResponseFrom renders a stored SALE transaction as a sale response.
func ResponseFrom(t domain.Transaction, duplicate bool) domain.SaleResponse {
	resp := domain.SaleResponse{
		TransactionID: t.ID,
		TotalAmount:   t.Amount,
		PaymentMethod: t.PaymentMethod,
		Duplicate:     duplicate,
		SoldAt:        t.OccurredAt,
		LineItems:     make([]domain.SaleLineResponse, 0, len(t.Lines)),
	}
	for _, line := range t.Lines {
		resp.LineItems = append(resp.LineItems, domain.SaleLineResponse{
			ProductID:       line.ProductID,
			OwnershipType:   line.OwnershipType,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			TotalPrice:      line.TotalPrice,
			CostOfGoodsSold: line.CostOfGoodsSold,
			GrossProfit:     line.GrossProfit,
			Allocations:     line.Allocations,
		})
	}
	return resp
}

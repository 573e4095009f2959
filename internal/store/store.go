package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"koperasi/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrBatchExpired           = errors.New("batch expired")
	ErrProductNotFound        = errors.New("product not found")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// StockError carries the product and quantities behind an ErrInsufficientStock
// or ErrBatchExpired failure.
type StockError struct {
	Kind      error
	ProductID string
	Requested int64
	Available int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s requested %d, available %d", e.Kind, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Kind
}

func InsufficientStock(productID string, requested int64, available int64) error {
	return &StockError{Kind: ErrInsufficientStock, ProductID: productID, Requested: requested, Available: available}
}

// Reader is the read side of a unit of work. Inside a Tx it observes the
// transaction's own pending writes.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetBatch(ctx context.Context, id string) (*domain.ConsignmentBatch, error)
	// ListBatches returns batches in FIFO order (received_at, then seq). An empty
	// productID lists every product; no statuses means any status.
	ListBatches(ctx context.Context, productID string, statuses ...domain.BatchStatus) ([]domain.ConsignmentBatch, error)
	// ListMovements returns entries in append order. Zero bounds are open.
	ListMovements(ctx context.Context, productID string, from time.Time, to time.Time) ([]domain.StockMovement, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	// ListTransactions returns transactions whose OccurredAt falls in [from, to).
	ListTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
}

// Tx is one unit of work. Nothing it writes is visible outside until the
// enclosing WithinTx returns nil.
type Tx interface {
	Reader
	// LockProducts reads and locks the given products. Missing ids fail with
	// ErrProductNotFound.
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	// UpdateProduct persists product when product.Version still matches the
	// stored row, bumping the version; otherwise ErrConcurrentModification.
	UpdateProduct(ctx context.Context, product domain.Product) error
	// LockBatches reads and locks the batches of productID that still hold stock,
	// in FIFO order.
	LockBatches(ctx context.Context, productID string) ([]domain.ConsignmentBatch, error)
	CreateBatch(ctx context.Context, batch domain.ConsignmentBatch) error
	UpdateBatch(ctx context.Context, batch domain.ConsignmentBatch) error
	AppendMovement(ctx context.Context, movement domain.StockMovement) error
	CreateTransaction(ctx context.Context, tx domain.Transaction) error
}

type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Snapshot runs fn against committed data as of its start.
	Snapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
	Close() error
}

func LockProduct(ctx context.Context, tx Tx, id string) (domain.Product, error) {
	products, err := tx.LockProducts(ctx, []string{id})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return product, nil
}

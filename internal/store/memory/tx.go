package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

const createdVersion int64 = -1

// memTx stages writes over the committed state. productBase and batchBase hold
// the version each touched row had when first seen; commit rejects the unit of
// work if any of them moved.
type memTx struct {
	s              *Store
	products       map[string]domain.Product
	productBase    map[string]int64
	batches        map[string]domain.ConsignmentBatch
	batchBase      map[string]int64
	createdBatches []string
	movements      []domain.StockMovement
	transactions   []domain.Transaction
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:           s,
		products:    make(map[string]domain.Product),
		productBase: make(map[string]int64),
		batches:     make(map[string]domain.ConsignmentBatch),
		batchBase:   make(map[string]int64),
	}
}

func (t *memTx) product(id string) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return cloneProduct(p), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.getProduct(id)
}

func (t *memTx) batch(id string) (domain.ConsignmentBatch, bool) {
	if b, ok := t.batches[id]; ok {
		return cloneBatch(b), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.getBatch(id)
}

func (t *memTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.product(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *memTx) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	for _, p := range t.products {
		if p.SKU == sku {
			copied := cloneProduct(p)
			return &copied, nil
		}
	}
	t.s.mu.RLock()
	p, ok := t.s.getProductBySKU(sku)
	t.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sku %s", store.ErrProductNotFound, sku)
	}
	return &p, nil
}

func (t *memTx) ListProducts(_ context.Context) ([]domain.Product, error) {
	t.s.mu.RLock()
	committed := t.s.listProducts()
	t.s.mu.RUnlock()

	byID := make(map[string]domain.Product, len(committed)+len(t.products))
	for _, p := range committed {
		byID[p.ID] = p
	}
	for id, p := range t.products {
		byID[id] = cloneProduct(p)
	}
	products := make([]domain.Product, 0, len(byID))
	for _, p := range byID {
		products = append(products, p)
	}
	slices.SortFunc(products, compareProduct)
	return products, nil
}

func (t *memTx) GetBatch(_ context.Context, id string) (*domain.ConsignmentBatch, error) {
	b, ok := t.batch(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) ListBatches(_ context.Context, productID string, statuses ...domain.BatchStatus) ([]domain.ConsignmentBatch, error) {
	return filterBatches(t.mergedBatches(), productID, statuses), nil
}

func (t *memTx) mergedBatches() []domain.ConsignmentBatch {
	t.s.mu.RLock()
	committed := t.s.listBatches()
	t.s.mu.RUnlock()

	merged := make([]domain.ConsignmentBatch, 0, len(committed)+len(t.batches))
	for _, b := range committed {
		if _, staged := t.batches[b.ID]; staged {
			continue
		}
		merged = append(merged, b)
	}
	for _, b := range t.batches {
		merged = append(merged, cloneBatch(b))
	}
	return merged
}

func (t *memTx) ListMovements(_ context.Context, productID string, from time.Time, to time.Time) ([]domain.StockMovement, error) {
	t.s.mu.RLock()
	result := t.s.listMovements(productID, from, to)
	t.s.mu.RUnlock()

	for _, m := range t.movements {
		if movementMatches(m, productID, from, to) {
			result = append(result, cloneMovement(m))
		}
	}
	return result, nil
}

func (t *memTx) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	for _, staged := range t.transactions {
		if staged.ID == id {
			copied := cloneTransaction(staged)
			return &copied, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found, ok := t.s.findTransaction(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &found, nil
}

func (t *memTx) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	for _, staged := range t.transactions {
		if key != "" && staged.IdempotencyKey == key {
			copied := cloneTransaction(staged)
			return &copied, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found, ok := t.s.findTransactionByIdempotency(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &found, nil
}

func (t *memTx) ListTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	t.s.mu.RLock()
	result := t.s.listTransactions(from, to)
	t.s.mu.RUnlock()

	for _, staged := range t.transactions {
		if inWindow(staged.OccurredAt, from, to) {
			result = append(result, cloneTransaction(staged))
		}
	}
	slices.SortStableFunc(result, compareTransaction)
	return result, nil
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	sorted := slices.Clone(ids)
	sort.Strings(sorted)

	result := make(map[string]domain.Product, len(sorted))
	for _, id := range slices.Compact(sorted) {
		p, ok := t.product(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		if _, seen := t.productBase[id]; !seen {
			t.productBase[id] = p.Version
		}
		result[id] = p
	}
	return result, nil
}

func (t *memTx) CreateProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" || product.SKU == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.product(product.ID); exists {
		return fmt.Errorf("%w: product %s already exists", store.ErrInvalidTransaction, product.ID)
	}
	if _, err := t.GetProductBySKU(context.Background(), product.SKU); err == nil {
		return fmt.Errorf("%w: sku %s already exists", store.ErrInvalidTransaction, product.SKU)
	}

	now := t.s.now()
	product.Version = 0
	product.CreatedAt = now
	product.UpdatedAt = now
	t.products[product.ID] = cloneProduct(product)
	t.productBase[product.ID] = createdVersion
	return nil
}

func (t *memTx) UpdateProduct(_ context.Context, product domain.Product) error {
	current, ok := t.product(product.ID)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrProductNotFound, product.ID)
	}
	if current.Version != product.Version {
		return fmt.Errorf("%w: product %s version %d, have %d", store.ErrConcurrentModification, product.ID, current.Version, product.Version)
	}
	if _, seen := t.productBase[product.ID]; !seen {
		t.productBase[product.ID] = current.Version
	}

	product.Version++
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = t.s.now()
	t.products[product.ID] = cloneProduct(product)
	return nil
}

func (t *memTx) LockBatches(_ context.Context, productID string) ([]domain.ConsignmentBatch, error) {
	candidates := filterBatches(t.mergedBatches(), productID, nil)
	result := make([]domain.ConsignmentBatch, 0, len(candidates))
	for _, b := range candidates {
		if b.Status == domain.BatchDepleted || b.QuantityRemaining < 1 {
			continue
		}
		if _, seen := t.batchBase[b.ID]; !seen {
			t.batchBase[b.ID] = b.Version
		}
		result = append(result, b)
	}
	return result, nil
}

func (t *memTx) CreateBatch(_ context.Context, batch domain.ConsignmentBatch) error {
	if batch.ID == "" || batch.ProductID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.batch(batch.ID); exists {
		return fmt.Errorf("%w: batch %s already exists", store.ErrInvalidTransaction, batch.ID)
	}

	// Provisional sequence so FIFO reads inside this unit of work order the new
	// batch after everything already committed; commit assigns the final one.
	t.s.mu.RLock()
	batch.Seq = t.s.batchSeq + int64(len(t.createdBatches)) + 1
	t.s.mu.RUnlock()

	batch.Version = 0
	batch.CreatedAt = t.s.now()
	t.batches[batch.ID] = cloneBatch(batch)
	t.batchBase[batch.ID] = createdVersion
	t.createdBatches = append(t.createdBatches, batch.ID)
	return nil
}

func (t *memTx) UpdateBatch(_ context.Context, batch domain.ConsignmentBatch) error {
	current, ok := t.batch(batch.ID)
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != batch.Version {
		return fmt.Errorf("%w: batch %s version %d, have %d", store.ErrConcurrentModification, batch.ID, current.Version, batch.Version)
	}
	if _, seen := t.batchBase[batch.ID]; !seen {
		t.batchBase[batch.ID] = current.Version
	}

	batch.Version++
	batch.Seq = current.Seq
	batch.CreatedAt = current.CreatedAt
	t.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (t *memTx) AppendMovement(_ context.Context, movement domain.StockMovement) error {
	if movement.ID == "" || movement.ProductID == "" {
		return store.ErrInvalidTransaction
	}
	t.movements = append(t.movements, cloneMovement(movement))
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	if tx.ID == "" {
		return store.ErrInvalidTransaction
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = t.s.now()
	}
	t.transactions = append(t.transactions, cloneTransaction(tx))
	return nil
}

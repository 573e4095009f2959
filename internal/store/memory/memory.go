package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

// Store keeps everything in process. Units of work stage their writes and
// validate row versions on commit, so concurrent writers touching the same
// product or batch see ErrConcurrentModification instead of losing updates.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	skuIndex     map[string]string
	batches      map[string]domain.ConsignmentBatch
	movements    []domain.StockMovement
	transactions map[string]domain.Transaction
	txOrder      []string
	txByIdem     map[string]string
	movementSeq  int64
	batchSeq     int64
	now          func() time.Time
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		skuIndex:     make(map[string]string),
		batches:      make(map[string]domain.ConsignmentBatch),
		movements:    make([]domain.StockMovement, 0, 256),
		transactions: make(map[string]domain.Transaction),
		txOrder:      make([]string, 0, 128),
		txByIdem:     make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with demo catalog data. Stock is left at zero:
// it only arrives through purchases and consignment intakes.
func NewSeeded() *Store {
	s := New()
	now := s.now()
	price := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	seed := []domain.Product{
		{ID: "prd-beras-5kg", SKU: "BERAS-5KG", Name: "Beras Premium 5kg", OwnershipType: domain.OwnershipStoreOwned, UnitCost: domain.DecimalPtr(price(68000)), SellPrice: price(75000), ReorderThreshold: 10},
		{ID: "prd-minyak-2l", SKU: "MINYAK-2L", Name: "Minyak Goreng 2L", OwnershipType: domain.OwnershipStoreOwned, UnitCost: domain.DecimalPtr(price(34000)), SellPrice: price(38000), ReorderThreshold: 12},
		{ID: "prd-gula-1kg", SKU: "GULA-1KG", Name: "Gula Pasir 1kg", OwnershipType: domain.OwnershipStoreOwned, UnitCost: domain.DecimalPtr(price(15500)), SellPrice: price(17500), ReorderThreshold: 20},
		{ID: "prd-keripik-tempe", SKU: "KERIPIK-TEMPE", Name: "Keripik Tempe UMKM", OwnershipType: domain.OwnershipConsigned, SellPrice: price(12000), ReorderThreshold: 5},
		{ID: "prd-sambal-bawang", SKU: "SAMBAL-BAWANG", Name: "Sambal Bawang Bu Sri", OwnershipType: domain.OwnershipConsigned, SellPrice: price(25000), ReorderThreshold: 5},
		{ID: "prd-kopi-bubuk", SKU: "KOPI-BUBUK", Name: "Kopi Bubuk Petani Lokal", OwnershipType: domain.OwnershipConsigned, SellPrice: price(30000), ReorderThreshold: 4},
	}
	for _, p := range seed {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.skuIndex[p.SKU] = p.ID
	}
	return s
}

// WithClock overrides the clock used to stamp recorded_at and updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context, r store.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, view{s: s})
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range tx.productBase {
		current, exists := s.products[id]
		if base == createdVersion {
			staged := tx.products[id]
			if exists {
				return fmt.Errorf("%w: product %s already exists", store.ErrInvalidTransaction, id)
			}
			if _, taken := s.skuIndex[staged.SKU]; taken {
				return fmt.Errorf("%w: sku %s already exists", store.ErrInvalidTransaction, staged.SKU)
			}
			continue
		}
		if !exists || current.Version != base {
			return fmt.Errorf("%w: product %s", store.ErrConcurrentModification, id)
		}
	}
	for id, base := range tx.batchBase {
		current, exists := s.batches[id]
		if base == createdVersion {
			if exists {
				return fmt.Errorf("%w: batch %s already exists", store.ErrInvalidTransaction, id)
			}
			continue
		}
		if !exists || current.Version != base {
			return fmt.Errorf("%w: batch %s", store.ErrConcurrentModification, id)
		}
	}
	for _, t := range tx.transactions {
		if _, exists := s.transactions[t.ID]; exists {
			return fmt.Errorf("%w: transaction %s already exists", store.ErrInvalidTransaction, t.ID)
		}
		if t.IdempotencyKey == "" {
			continue
		}
		if _, exists := s.txByIdem[t.IdempotencyKey]; exists {
			return fmt.Errorf("%w: idempotency key %s", store.ErrConcurrentModification, t.IdempotencyKey)
		}
	}

	now := s.now()
	for id, p := range tx.products {
		s.products[id] = cloneProduct(p)
		s.skuIndex[p.SKU] = id
	}
	for _, id := range tx.createdBatches {
		s.batchSeq++
		b := tx.batches[id]
		b.Seq = s.batchSeq
		tx.batches[id] = b
	}
	for id, b := range tx.batches {
		s.batches[id] = cloneBatch(b)
	}
	for _, m := range tx.movements {
		s.movementSeq++
		m.Seq = s.movementSeq
		m.RecordedAt = now
		s.movements = append(s.movements, cloneMovement(m))
	}
	for _, t := range tx.transactions {
		s.transactions[t.ID] = cloneTransaction(t)
		s.txOrder = append(s.txOrder, t.ID)
		if t.IdempotencyKey != "" {
			s.txByIdem[t.IdempotencyKey] = t.ID
		}
	}
	return nil
}

// Unlocked readers; callers hold s.mu.

func (s *Store) getProduct(id string) (domain.Product, bool) {
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, false
	}
	return cloneProduct(p), true
}

func (s *Store) getProductBySKU(sku string) (domain.Product, bool) {
	id, ok := s.skuIndex[sku]
	if !ok {
		return domain.Product{}, false
	}
	return s.getProduct(id)
}

func (s *Store) listProducts() []domain.Product {
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	return products
}

func (s *Store) getBatch(id string) (domain.ConsignmentBatch, bool) {
	b, ok := s.batches[id]
	if !ok {
		return domain.ConsignmentBatch{}, false
	}
	return cloneBatch(b), true
}

func (s *Store) listBatches() []domain.ConsignmentBatch {
	batches := make([]domain.ConsignmentBatch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, cloneBatch(b))
	}
	return batches
}

func (s *Store) listMovements(productID string, from time.Time, to time.Time) []domain.StockMovement {
	result := make([]domain.StockMovement, 0, 32)
	for _, m := range s.movements {
		if movementMatches(m, productID, from, to) {
			result = append(result, cloneMovement(m))
		}
	}
	return result
}

func (s *Store) findTransaction(id string) (domain.Transaction, bool) {
	t, ok := s.transactions[id]
	if !ok {
		return domain.Transaction{}, false
	}
	return cloneTransaction(t), true
}

func (s *Store) findTransactionByIdempotency(key string) (domain.Transaction, bool) {
	id, ok := s.txByIdem[key]
	if !ok {
		return domain.Transaction{}, false
	}
	return s.findTransaction(id)
}

func (s *Store) listTransactions(from time.Time, to time.Time) []domain.Transaction {
	result := make([]domain.Transaction, 0, 32)
	for _, id := range s.txOrder {
		t := s.transactions[id]
		if inWindow(t.OccurredAt, from, to) {
			result = append(result, cloneTransaction(t))
		}
	}
	return result
}

// view is the committed-only Reader handed to Snapshot while s.mu is read-held.
type view struct {
	s *Store
}

func (v view) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := v.s.getProduct(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	return &p, nil
}

func (v view) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	p, ok := v.s.getProductBySKU(sku)
	if !ok {
		return nil, fmt.Errorf("%w: sku %s", store.ErrProductNotFound, sku)
	}
	return &p, nil
}

func (v view) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := v.s.listProducts()
	slices.SortFunc(products, compareProduct)
	return products, nil
}

func (v view) GetBatch(_ context.Context, id string) (*domain.ConsignmentBatch, error) {
	b, ok := v.s.getBatch(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (v view) ListBatches(_ context.Context, productID string, statuses ...domain.BatchStatus) ([]domain.ConsignmentBatch, error) {
	return filterBatches(v.s.listBatches(), productID, statuses), nil
}

func (v view) ListMovements(_ context.Context, productID string, from time.Time, to time.Time) ([]domain.StockMovement, error) {
	return v.s.listMovements(productID, from, to), nil
}

func (v view) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	t, ok := v.s.findTransaction(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (v view) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	t, ok := v.s.findTransactionByIdempotency(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (v view) ListTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	result := v.s.listTransactions(from, to)
	slices.SortStableFunc(result, compareTransaction)
	return result, nil
}

func filterBatches(batches []domain.ConsignmentBatch, productID string, statuses []domain.BatchStatus) []domain.ConsignmentBatch {
	result := make([]domain.ConsignmentBatch, 0, len(batches))
	for _, b := range batches {
		if productID != "" && b.ProductID != productID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, b.Status) {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, compareBatchFIFO)
	return result
}

func movementMatches(m domain.StockMovement, productID string, from time.Time, to time.Time) bool {
	if productID != "" && m.ProductID != productID {
		return false
	}
	return inWindow(m.OccurredAt, from, to)
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func compareProduct(a domain.Product, b domain.Product) int {
	if a.Name == b.Name {
		return cmpString(a.ID, b.ID)
	}
	return cmpString(a.Name, b.Name)
}

func compareBatchFIFO(a domain.ConsignmentBatch, b domain.ConsignmentBatch) int {
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func compareTransaction(a domain.Transaction, b domain.Transaction) int {
	if a.OccurredAt.Before(b.OccurredAt) {
		return -1
	}
	if a.OccurredAt.After(b.OccurredAt) {
		return 1
	}
	return 0
}

func cmpString(a string, b string) int {
	return strings.Compare(a, b)
}

func cloneDecimal(src *decimal.Decimal) *decimal.Decimal {
	if src == nil {
		return nil
	}
	copied := *src
	return &copied
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	copied := *src
	return &copied
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	dst.UnitCost = cloneDecimal(src.UnitCost)
	dst.AverageCost = cloneDecimal(src.AverageCost)
	return dst
}

func cloneBatch(src domain.ConsignmentBatch) domain.ConsignmentBatch {
	dst := src
	dst.ExpiresAt = cloneTime(src.ExpiresAt)
	return dst
}

func cloneMovement(src domain.StockMovement) domain.StockMovement {
	dst := src
	dst.UnitCost = cloneDecimal(src.UnitCost)
	return dst
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dst := src
	if src.Lines != nil {
		dst.Lines = make([]domain.TransactionLine, len(src.Lines))
		for i, line := range src.Lines {
			dst.Lines[i] = line
			dst.Lines[i].Allocations = slices.Clone(line.Allocations)
		}
	}
	return dst
}

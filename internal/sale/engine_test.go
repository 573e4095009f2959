package sale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/config"
	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/store/memory"
	"koperasi/backend/internal/valuation"
)

var day0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func price(v int64) *decimal.Decimal { return domain.DecimalPtr(d(v)) }

type fixture struct {
	repo  *memory.Store
	val   *valuation.Service
	alloc *consignment.Allocator
	eng   *Engine
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) TransactionCommitted(_ context.Context, t domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, t.ID)
}

func newFixture() *fixture {
	repo := memory.NewSeeded()
	l := ledger.New()
	log := config.DiscardLogger()
	val := valuation.New(l)
	alloc := consignment.NewAllocator(l, consignment.PolicyForbid, log)
	eng := New(repo, val, alloc, log).WithClock(func() time.Time { return day0.Add(72 * time.Hour) })
	return &fixture{repo: repo, val: val, alloc: alloc, eng: eng}
}

func (f *fixture) purchase(t *testing.T, productID string, qty int64, cost int64) {
	t.Helper()
	err := f.repo.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := f.val.OnPurchase(ctx, tx, valuation.Purchase{
			ProductID: productID, Quantity: qty, UnitCost: d(cost),
			Reference: ledger.Reference{Type: domain.ReferencePurchase, ID: "pur-fixture"},
		})
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) intake(t *testing.T, productID string, qty int64, fee domain.FeeModel, receivedAt time.Time, expiresAt *time.Time) domain.ConsignmentBatch {
	t.Helper()
	var batch domain.ConsignmentBatch
	err := f.repo.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		batch, err = f.alloc.Intake(ctx, tx, consignment.Intake{
			ConsignorID: "umkm-" + productID, ProductID: productID, Quantity: qty,
			FeeModel: fee, ReceivedAt: receivedAt, ExpiresAt: expiresAt,
		})
		return err
	})
	require.NoError(t, err)
	return batch
}

type state struct {
	products  map[string]domain.Product
	batches   []domain.ConsignmentBatch
	movements []domain.StockMovement
	txs       []domain.Transaction
}

func (f *fixture) state(t *testing.T) state {
	t.Helper()
	var s state
	err := f.repo.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		products, err := r.ListProducts(ctx)
		if err != nil {
			return err
		}
		s.products = make(map[string]domain.Product, len(products))
		for _, p := range products {
			s.products[p.ID] = p
		}
		if s.batches, err = r.ListBatches(ctx, ""); err != nil {
			return err
		}
		if s.movements, err = r.ListMovements(ctx, "", time.Time{}, time.Time{}); err != nil {
			return err
		}
		s.txs, err = r.ListTransactions(ctx, time.Time{}, time.Time{})
		return err
	})
	require.NoError(t, err)
	return s
}

func assertReconciled(t *testing.T, s state) {
	t.Helper()
	sums := make(map[string]int64)
	for _, m := range s.movements {
		sums[m.ProductID] += m.Quantity
	}
	for id, p := range s.products {
		assert.Equal(t, p.StockOnHand, sums[id], "product %s", id)
	}
	for _, b := range s.batches {
		assert.Equal(t, b.QuantityReceived, b.QuantitySold+b.QuantityRemaining, "batch %s", b.ID)
		assert.GreaterOrEqual(t, b.QuantityRemaining, int64(0))
	}
}

func TestStoreOwnedSale(t *testing.T) {
	f := newFixture()
	f.purchase(t, "prd-beras-5kg", 50, 45000)

	resp, err := f.eng.Execute(context.Background(), Request{
		Lines:         []Line{{ProductID: "prd-beras-5kg", Quantity: 1, UnitPrice: price(50000)}},
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	require.Len(t, resp.LineItems, 1)
	assert.True(t, d(50000).Equal(resp.TotalAmount))
	assert.True(t, d(45000).Equal(resp.LineItems[0].CostOfGoodsSold))
	assert.True(t, d(5000).Equal(resp.LineItems[0].GrossProfit))

	s := f.state(t)
	assert.Equal(t, int64(49), s.products["prd-beras-5kg"].StockOnHand)
	assertReconciled(t, s)
}

func TestConsignedSaleUsesFeeAsCost(t *testing.T) {
	f := newFixture()
	f.intake(t, "prd-sambal-bawang", 30, domain.FeeModel{Kind: domain.FeePercentage, Rate: decimal.RequireFromString("0.2")}, day0, nil)

	resp, err := f.eng.Execute(context.Background(), Request{
		Lines: []Line{{ProductID: "prd-sambal-bawang", Quantity: 3, UnitPrice: price(5000)}},
	})
	require.NoError(t, err)
	line := resp.LineItems[0]
	assert.True(t, d(15000).Equal(line.TotalPrice))
	assert.True(t, d(3000).Equal(line.CostOfGoodsSold))
	assert.True(t, d(12000).Equal(line.GrossProfit))
	require.Len(t, line.Allocations, 1)
	assert.True(t, d(12000).Equal(line.Allocations[0].NetPayableToConsignor))
	assert.Equal(t, "cash", resp.PaymentMethod)

	s := f.state(t)
	assert.Equal(t, int64(27), s.batches[0].QuantityRemaining)
	assertReconciled(t, s)
}

func TestMixedSaleFIFOAndDefaultPrice(t *testing.T) {
	f := newFixture()
	f.purchase(t, "prd-minyak-2l", 10, 34000)
	fee := domain.FeeModel{Kind: domain.FeeFlat, AmountPerUnit: d(2000)}
	b1 := f.intake(t, "prd-keripik-tempe", 20, fee, day0, nil)
	b2 := f.intake(t, "prd-keripik-tempe", 30, fee, day0.Add(time.Hour), nil)

	resp, err := f.eng.Execute(context.Background(), Request{
		Lines: []Line{
			{ProductID: "prd-keripik-tempe", Quantity: 25},
			{ProductID: "prd-minyak-2l", Quantity: 2},
		},
		PaymentMethod: "qris",
	})
	require.NoError(t, err)
	require.Len(t, resp.LineItems, 2)

	consigned := resp.LineItems[0]
	require.Len(t, consigned.Allocations, 2)
	assert.Equal(t, b1.ID, consigned.Allocations[0].BatchID)
	assert.Equal(t, int64(20), consigned.Allocations[0].QuantitySold)
	assert.Equal(t, b2.ID, consigned.Allocations[1].BatchID)
	assert.Equal(t, int64(5), consigned.Allocations[1].QuantitySold)
	// seeded sell price 12000
	assert.True(t, d(300000).Equal(consigned.TotalPrice))
	assert.True(t, d(50000).Equal(consigned.CostOfGoodsSold))

	owned := resp.LineItems[1]
	assert.True(t, d(76000).Equal(owned.TotalPrice))
	assert.True(t, d(68000).Equal(owned.CostOfGoodsSold))
	assert.True(t, d(376000).Equal(resp.TotalAmount))

	s := f.state(t)
	require.Len(t, s.txs, 1)
	assert.Equal(t, domain.TxSale, s.txs[0].Type)
	assertReconciled(t, s)
}

func TestFailingLineRollsBackWholeSale(t *testing.T) {
	f := newFixture()
	f.purchase(t, "prd-beras-5kg", 10, 68000)
	fee := domain.FeeModel{Kind: domain.FeePercentage, Rate: decimal.RequireFromString("0.1")}
	f.intake(t, "prd-kopi-bubuk", 20, fee, day0, nil)
	f.intake(t, "prd-kopi-bubuk", 30, fee, day0.Add(time.Hour), nil)

	before := f.state(t)
	rec := &recorder{}
	f.eng.WithListener(rec)

	_, err := f.eng.Execute(context.Background(), Request{
		Lines: []Line{
			{ProductID: "prd-beras-5kg", Quantity: 2},
			{ProductID: "prd-kopi-bubuk", Quantity: 60},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	after := f.state(t)
	assert.Equal(t, before.products, after.products)
	assert.Equal(t, before.batches, after.batches)
	assert.Equal(t, before.movements, after.movements)
	assert.Empty(t, after.txs)
	assert.Empty(t, rec.ids)
}

func TestExecuteValidation(t *testing.T) {
	f := newFixture()

	_, err := f.eng.Execute(context.Background(), Request{})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = f.eng.Execute(context.Background(), Request{Lines: []Line{{ProductID: "prd-beras-5kg", Quantity: 0}}})
	assert.ErrorIs(t, err, store.ErrInvalidQuantity)

	_, err = f.eng.Execute(context.Background(), Request{Lines: []Line{{ProductID: "nope", Quantity: 1}}})
	assert.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestRejectedSaleLogsWarningWithError(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	repo := memory.NewSeeded()
	l := ledger.New()
	eng := New(repo, valuation.New(l), consignment.NewAllocator(l, consignment.PolicyForbid, log), log)

	_, err := eng.Execute(context.Background(), Request{Lines: []Line{{ProductID: "prd-beras-5kg", Quantity: 1}}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "sale rejected", entry.Message)
	logged, ok := entry.Data[logrus.ErrorKey].(error)
	require.True(t, ok)
	assert.ErrorIs(t, logged, store.ErrInsufficientStock)
}

func TestIdempotentReplay(t *testing.T) {
	f := newFixture()
	f.purchase(t, "prd-gula-1kg", 10, 15500)
	rec := &recorder{}
	f.eng.WithListener(rec)

	req := Request{Lines: []Line{{ProductID: "prd-gula-1kg", Quantity: 2}}, IdempotencyKey: "terminal-1-0001"}
	first, err := f.eng.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.eng.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	s := f.state(t)
	assert.Equal(t, int64(8), s.products["prd-gula-1kg"].StockOnHand)
	assert.Len(t, s.txs, 1)
	assert.Equal(t, []string{first.TransactionID}, rec.ids)
}

func TestExpiredStockNeedsOverride(t *testing.T) {
	f := newFixture()
	expires := day0.Add(24 * time.Hour)
	fee := domain.FeeModel{Kind: domain.FeePercentage, Rate: decimal.RequireFromString("0.2")}
	f.intake(t, "prd-sambal-bawang", 5, fee, day0, &expires)

	req := Request{Lines: []Line{{ProductID: "prd-sambal-bawang", Quantity: 1}}, SoldAt: day0.Add(48 * time.Hour)}
	_, err := f.eng.Execute(context.Background(), req)
	require.ErrorIs(t, err, store.ErrBatchExpired)

	// Before expiry the same sale goes through.
	early := req
	early.SoldAt = day0.Add(time.Hour)
	_, err = f.eng.Execute(context.Background(), early)
	require.NoError(t, err)

	req.AllowExpired = true
	resp, err := f.eng.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, day0.Add(48*time.Hour), resp.SoldAt)
	assertReconciled(t, f.state(t))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture()
	f.purchase(t, "prd-beras-5kg", 10, 68000)
	fee := domain.FeeModel{Kind: domain.FeeFlat, AmountPerUnit: d(1000)}
	f.intake(t, "prd-keripik-tempe", 10, fee, day0, nil)
	f.eng.WithMaxAttempts(200)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Execute(context.Background(), Request{Lines: []Line{
				{ProductID: "prd-beras-5kg", Quantity: 1},
				{ProductID: "prd-keripik-tempe", Quantity: 1},
			}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	s := f.state(t)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), s.products["prd-beras-5kg"].StockOnHand)
	assert.Equal(t, int64(0), s.products["prd-keripik-tempe"].StockOnHand)
	assert.Len(t, s.txs, 10)
	assertReconciled(t, s)
}

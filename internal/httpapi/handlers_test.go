package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/cache"
	"koperasi/backend/internal/config"
	"koperasi/backend/internal/consignment"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/finance"
	"koperasi/backend/internal/ledger"
	"koperasi/backend/internal/sale"
	"koperasi/backend/internal/service"
	"koperasi/backend/internal/store/memory"
	"koperasi/backend/internal/valuation"
)

const testPIN = "739154"

// newTestAPI wires the full request path over an in-memory store.
func newTestAPI(t *testing.T) (*API, *AuthManager) {
	t.Helper()

	repo := memory.NewSeeded()
	log := config.DiscardLogger()
	auth := NewAuthManager("test-secret-key", time.Hour, testPIN)

	l := ledger.New()
	val := valuation.New(l)
	alloc := consignment.NewAllocator(l, consignment.PolicyForbid, log)
	fin := finance.NewService(repo, cache.NoopSummaryCache{}, time.Minute, log)
	engine := sale.New(repo, val, alloc, log).WithListener(fin)
	svc := service.New(repo, engine, val, alloc, fin, auth, log)

	return New(svc, auth, "*", log), auth
}

func bearer(t *testing.T, auth *AuthManager, role string) string {
	t.Helper()
	token, _, err := auth.IssueToken("tester-"+role, role)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, h http.Handler, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest), rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
}

func TestListProducts(t *testing.T) {
	api, auth := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/products", bearer(t, auth, domain.RoleCashier), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.Products)
}

func TestGetUnknownProduct(t *testing.T) {
	api, auth := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/products/prd-nope", bearer(t, auth, domain.RoleCashier), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseThenSale(t *testing.T) {
	api, auth := newTestAPI(t)
	h := api.Handler()
	admin := bearer(t, auth, domain.RoleAdmin)
	cashier := bearer(t, auth, domain.RoleCashier)

	rec := do(t, h, http.MethodPost, "/api/v1/purchases", admin, domain.PurchaseRequest{
		ProductID: "prd-gula-1kg",
		Quantity:  10,
		UnitCost:  decimal.NewFromInt(15000),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var purchase domain.PurchaseResponse
	decodeBody(t, rec, &purchase)
	assert.Equal(t, int64(10), purchase.StockOnHand)

	rec = do(t, h, http.MethodPost, "/api/v1/sales", cashier, domain.SaleRequest{
		LineItems:      []domain.SaleLineRequest{{ProductID: "prd-gula-1kg", Quantity: 4}},
		IdempotencyKey: "till-1-0001",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sold domain.SaleResponse
	decodeBody(t, rec, &sold)
	assert.False(t, sold.Duplicate)
	assert.True(t, decimal.NewFromInt(70000).Equal(sold.TotalAmount), sold.TotalAmount.String())

	rec = do(t, h, http.MethodPost, "/api/v1/sales", cashier, domain.SaleRequest{
		LineItems:      []domain.SaleLineRequest{{ProductID: "prd-gula-1kg", Quantity: 4}},
		IdempotencyKey: "till-1-0001",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var replay domain.SaleResponse
	decodeBody(t, rec, &replay)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, sold.TransactionID, replay.TransactionID)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/"+sold.TransactionID, cashier, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/reconciliation?product_id=prd-gula-1kg", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recon struct {
		Balanced bool `json:"balanced"`
	}
	decodeBody(t, rec, &recon)
	assert.True(t, recon.Balanced)
}

func TestSaleWithoutStockConflicts(t *testing.T) {
	api, auth := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/sales", bearer(t, auth, domain.RoleCashier), domain.SaleRequest{
		LineItems: []domain.SaleLineRequest{{ProductID: "prd-beras-5kg", Quantity: 1}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaleValidationIsBadRequest(t *testing.T) {
	api, auth := newTestAPI(t)
	h := api.Handler()
	cashier := bearer(t, auth, domain.RoleCashier)

	rec := do(t, h, http.MethodPost, "/api/v1/sales", cashier, domain.SaleRequest{
		LineItems: []domain.SaleLineRequest{{ProductID: "prd-beras-5kg", Quantity: 0}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sales", cashier, map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsignmentIntakeAndBatches(t *testing.T) {
	api, auth := newTestAPI(t)
	h := api.Handler()
	admin := bearer(t, auth, domain.RoleAdmin)

	rec := do(t, h, http.MethodPost, "/api/v1/consignments/intake", admin, domain.IntakeRequest{
		ConsignorID: "bu-sri",
		ProductID:   "prd-sambal-bawang",
		Quantity:    12,
		FeeModel:    domain.FeeModel{Kind: domain.FeePercentage, Rate: decimal.RequireFromString("0.2")},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/consignments/batches?product_id=prd-sambal-bawang&status=active", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Batches []domain.ConsignmentBatch `json:"batches"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Batches, 1)
	assert.Equal(t, int64(12), body.Batches[0].QuantityRemaining)

	rec = do(t, h, http.MethodGet, "/api/v1/consignments/batches?status=bogus", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryReport(t *testing.T) {
	api, auth := newTestAPI(t)
	h := api.Handler()
	admin := bearer(t, auth, domain.RoleAdmin)

	rec := do(t, h, http.MethodPost, "/api/v1/cashbook/entries", admin, domain.CashEntryRequest{
		Type:   domain.TxIncome,
		Amount: decimal.NewFromInt(50000),
		Note:   "iuran anggota",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	today := time.Now().UTC()
	from := today.AddDate(0, 0, -1).Format(time.DateOnly)
	to := today.AddDate(0, 0, 1).Format(time.DateOnly)
	rec = do(t, h, http.MethodGet, "/api/v1/reports/summary?from="+from+"&to="+to, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary domain.Summary
	decodeBody(t, rec, &summary)
	assert.True(t, decimal.NewFromInt(50000).Equal(summary.TotalIncome), summary.TotalIncome.String())
	assert.Equal(t, int64(1), summary.TransactionCount)

	rec = do(t, h, http.MethodGet, "/api/v1/reports/summary?period=day", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/reports/summary?period=fortnight", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/reports/summary", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgerRequiresProduct(t *testing.T) {
	api, auth := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/ledger", bearer(t, auth, domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("2026-08-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTimeParam("2026-08-10T09:30:00+07:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 10, 2, 30, 0, 0, time.UTC), got)

	got, err = parseTimeParam("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseTimeParam("10/08/2026")
	assert.Error(t, err)
}

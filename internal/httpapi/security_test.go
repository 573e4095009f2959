package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"koperasi/backend/internal/domain"
)

func TestSecurityHeadersAreSet(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodOptions, "/api/v1/sales", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMissingOrInvalidTokenIsUnauthorized(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products", "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products", "Basic YWRtaW46YWRtaW4=", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashierCannotReachAdminRoutes(t *testing.T) {
	api, auth := newTestAPI(t)
	h := api.Handler()
	cashier := bearer(t, auth, domain.RoleCashier)

	for _, path := range []string{
		"/api/v1/ledger?product_id=prd-beras-5kg",
		"/api/v1/reports/summary?period=day",
		"/api/v1/reconciliation",
		"/api/v1/consignments/batches",
	} {
		rec := do(t, h, http.MethodGet, path, cashier, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/products", cashier, domain.ProductCreateRequest{SKU: "X", Name: "X", OwnershipType: domain.OwnershipStoreOwned})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWrongMethodIsRejected(t *testing.T) {
	api, auth := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodDelete, "/api/v1/products", bearer(t, auth, domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExpiredOverrideNeedsPIN(t *testing.T) {
	api, auth := newTestAPI(t)

	rec := do(t, api.Handler(), http.MethodPost, "/api/v1/sales", bearer(t, auth, domain.RoleCashier), domain.SaleRequest{
		LineItems:    []domain.SaleLineRequest{{ProductID: "prd-keripik-tempe", Quantity: 1}},
		AllowExpired: true,
		ManagerPIN:   "000000",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPINAttemptsAreRateLimited(t *testing.T) {
	api, auth := newTestAPI(t)
	h := api.Handler()
	cashier := bearer(t, auth, domain.RoleCashier)

	req := domain.SaleRequest{
		LineItems:    []domain.SaleLineRequest{{ProductID: "prd-keripik-tempe", Quantity: 1}},
		AllowExpired: true,
		ManagerPIN:   "000000",
	}
	last := 0
	for i := 0; i < 9; i++ {
		last = do(t, h, http.MethodPost, "/api/v1/sales", cashier, req).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	api, auth := newTestAPI(t)

	body := `{"line_items":[{"product_id":"` + strings.Repeat("a", 2<<20) + `","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, auth, domain.RoleCashier))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/report"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type addressStore struct {
	saved []models.Address
}

func (s *addressStore) GetAddress(ctx context.Context, userID, id int64) (*models.Address, error) {
	for _, a := range s.saved {
		if a.ID == id && a.UserID == userID {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *addressStore) CreateAddress(ctx context.Context, a *models.Address) error {
	a.ID = int64(len(s.saved) + 1)
	s.saved = append(s.saved, *a)
	return nil
}

func (s *addressStore) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	var out []models.Address
	for _, a := range s.saved {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type salesStore struct {
	from, to time.Time
}

func (s *salesStore) SalesByDay(ctx context.Context, from, to time.Time) ([]models.SalesDay, error) {
	s.from, s.to = from, to
	return []models.SalesDay{{
		Day: from, Orders: 1, Gross: decimal.NewFromInt(460), Discounts: decimal.NewFromInt(50),
		DeliveryFee: decimal.NewFromInt(40), Net: decimal.NewFromInt(450),
	}}, nil
}

type testServer struct {
	router    *gin.Engine
	tokens    *auth.Manager
	addresses *addressStore
	sales     *salesStore
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	ts := &testServer{
		tokens:    auth.NewManager("test-secret"),
		addresses: &addressStore{},
		sales:     &salesStore{},
	}
	svc := Services{
		Addresses: service.NewAddressService(ts.addresses),
		Reports:   service.NewReportService(ts.sales),
	}
	h := NewHandler(svc, ts.tokens, nil, checks, []string{"http://localhost:5173"})
	h.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }

	ts.router = gin.New()
	h.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestReadiness(t *testing.T) {
	ts := newTestServer(t, map[string]Pinger{"postgres": pinger{}, "redis": pinger{}})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", "", nil).Code)

	ts = newTestServer(t, map[string]Pinger{"postgres": pinger{}, "redis": pinger{err: errors.New("refused")}})
	rec := ts.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	failed := decodeBody(t, rec)["failed"].(map[string]interface{})
	assert.Equal(t, "refused", failed["redis"])
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, nil)
	customer := ts.token(t, 5, auth.RoleCustomer)
	admin := ts.token(t, 1, auth.RoleAdmin)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"missing token", "/user/addresses", "", http.StatusUnauthorized},
		{"bad token", "/user/addresses", "nope", http.StatusUnauthorized},
		{"customer route", "/user/addresses", customer, http.StatusOK},
		{"admin on customer route", "/user/addresses", admin, http.StatusOK},
		{"customer on admin route", "/admin/sales-report", customer, http.StatusForbidden},
		{"admin route", "/admin/sales-report", admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, tt.path, tt.token, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAdminFeedRequiresAdmin(t *testing.T) {
	ts := newTestServer(t, nil)
	customer := ts.token(t, 5, auth.RoleCustomer)

	rec := ts.do(http.MethodGet, "/admin/ws/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/ws/orders?token="+customer, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAddress(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, 5, auth.RoleCustomer)

	rec := ts.do(http.MethodPost, "/user/addresses", token, map[string]string{
		"name": "Asha", "phone": "9876543210", "line1": "12 MG Road",
		"city": "Bengaluru", "state": "KA", "pincode": "560001",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(5), decodeBody(t, rec)["user_id"])

	rec = ts.do(http.MethodPost, "/user/addresses", token, map[string]string{
		"name": "Asha", "phone": "9876543210", "line1": "12 MG Road",
		"city": "Bengaluru", "state": "KA", "pincode": "5600",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_address", decodeBody(t, rec)["error"])

	rec = ts.do(http.MethodPost, "/user/addresses", token, map[string]string{"name": "Asha"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}

func TestSalesReport(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.token(t, 1, auth.RoleAdmin)

	rec := ts.do(http.MethodGet, "/admin/sales-report?from=2024-03-01&to=2024-03-08", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ts.sales.from)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), ts.sales.to)
	summary := decodeBody(t, rec)["summary"].(map[string]interface{})
	assert.Equal(t, float64(1), summary["orders"])

	rec = ts.do(http.MethodGet, "/admin/sales-report?from=2024-03-01&format=xlsx", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sales_2024-03-01_2024-03-02.xlsx")
	assert.NotZero(t, rec.Body.Len())

	rec = ts.do(http.MethodGet, "/admin/sales-report?from=2024-03-08&to=2024-03-01", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/sales-report?format=pdf", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteError(t *testing.T) {
	cartErr := &service.CartValidationError{Issues: []service.LineIssue{{
		ProductID: 3, Reason: service.IssueInsufficientStock, Requested: 3, Available: 2,
	}}}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"cart invalid", cartErr, http.StatusConflict, "cart_invalid"},
		{"refunded wraps cause", fmt.Errorf("%w: %w", service.ErrRefundedToWallet, cartErr), http.StatusConflict, "refunded_to_wallet"},
		{"coupon expired", fmt.Errorf("apply: %w", service.ErrCouponExpired), http.StatusBadRequest, "coupon_expired"},
		{"below minimum", service.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},
		{"insufficient balance", service.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
		{"transition", service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"not found", service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody(t, rec)["error"])
		})
	}
}

func TestWriteErrorIncludesIssues(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", nil)

	writeError(c, &service.CartValidationError{Issues: []service.LineIssue{{
		ProductID: 3, Reason: service.IssueInactive,
	}}})

	issues := decodeBody(t, rec)["issues"].([]interface{})
	require.Len(t, issues, 1)
	assert.Equal(t, service.IssueInactive, issues[0].(map[string]interface{})["reason"])
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken("Basic abc"))
}

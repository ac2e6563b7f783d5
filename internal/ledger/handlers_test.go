package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/spendguard/internal/auth"
	"github.com/mbd888/spendguard/internal/risk"
)

const (
	alice = "usr_0000000000000000000000a1"
	bob   = "usr_0000000000000000000000b2"
	admin = "usr_0000000000000000000000ad"
)

type staticDirectory map[string]string

func (d staticDirectory) RoleOf(_ context.Context, userID string) (string, error) {
	if role, ok := d[userID]; ok {
		return role, nil
	}
	return "", auth.ErrUnknownUser
}

func setupRouter(t *testing.T) (*gin.Engine, *Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := newTestLedger()
	h := NewHandler(l, discardLogger())

	r := gin.New()
	r.Use(auth.Middleware(staticDirectory{alice: auth.RoleUser, bob: auth.RoleUser, admin: auth.RoleAdmin}))

	v1 := r.Group("/v1")
	authed := v1.Group("")
	authed.Use(auth.RequireAuth())
	h.RegisterRoutes(authed)

	adm := v1.Group("/admin")
	adm.Use(auth.RequireAdmin())
	h.RegisterAdminRoutes(adm)

	return r, l
}

func do(r *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.UserHeader, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTransactionHandler(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/v1/transactions", alice, map[string]any{
		"amount":   75000,
		"merchant": "Acme",
		"category": "electronics",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Transaction struct {
			ID       string  `json:"id"`
			UserID   string  `json:"userId"`
			Amount   float64 `json:"amount"`
			Category string  `json:"category"`
			Currency string  `json:"currency"`
		} `json:"transaction"`
		RiskScore float64  `json:"riskScore"`
		RiskLevel string   `json:"riskLevel"`
		Reasons   []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, alice, resp.Transaction.UserID)
	assert.Equal(t, 75000.0, resp.Transaction.Amount)
	assert.Equal(t, "electronics", resp.Transaction.Category)
	assert.Equal(t, "INR", resp.Transaction.Currency)
	assert.Equal(t, 0.7, resp.RiskScore)
	assert.Equal(t, "high", resp.RiskLevel)
	assert.Equal(t, []string{risk.ReasonHighAmount, risk.ReasonNewMerchant}, resp.Reasons)
}

func TestCreateTransactionHandler_Invalid(t *testing.T) {
	r, _ := setupRouter(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing amount", map[string]any{"merchant": "Acme"}},
		{"missing merchant", map[string]any{"amount": 10}},
		{"negative amount", map[string]any{"amount": -5, "merchant": "Acme"}},
		{"bad currency", map[string]any{"amount": 5, "merchant": "Acme", "currency": "RUPEES"}},
		{"bad timestamp", map[string]any{"amount": 5, "merchant": "Acme", "timestamp": "yesterday"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/transactions", alice, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_transaction")
		})
	}
}

func TestCreateTransactionHandler_RequiresKnownUser(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/v1/transactions", "", map[string]any{"amount": 1, "merchant": "A"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/transactions", "usr_stranger", map[string]any{"amount": 1, "merchant": "A"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateTransactionHandler_OwnerDeletedMidRequest(t *testing.T) {
	r, l := setupRouter(t)
	// The directory still resolves bob, but his record is already gone.
	l.WithOwners(&fakeOwners{known: map[string]bool{alice: true}})

	w := do(r, http.MethodPost, "/v1/transactions", bob, map[string]any{"amount": 10, "merchant": "Shop"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/transactions", alice, map[string]any{"amount": 10, "merchant": "Shop"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestListTransactionsHandler(t *testing.T) {
	r, _ := setupRouter(t)
	for _, m := range []string{"A", "B", "C"} {
		w := do(r, http.MethodPost, "/v1/transactions", alice, map[string]any{"amount": 1, "merchant": m})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(r, http.MethodPost, "/v1/transactions", bob, map[string]any{"amount": 1, "merchant": "Z"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/v1/transactions?limit=2", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Items      []map[string]any `json:"items"`
		NextCursor string           `json:"nextCursor"`
		HasMore    bool             `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	w = do(r, http.MethodGet, "/v1/transactions?limit=2&cursor="+page.NextCursor, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page.Items, page.HasMore = nil, true
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	w = do(r, http.MethodGet, "/v1/transactions?cursor=%21%21", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserStatsHandler(t *testing.T) {
	r, _ := setupRouter(t)
	do(r, http.MethodPost, "/v1/transactions", alice, map[string]any{"amount": 150000, "merchant": "Jeweller"})
	do(r, http.MethodPost, "/v1/transactions", bob, map[string]any{"amount": 1, "merchant": "Z"})

	w := do(r, http.MethodGet, "/v1/transactions/stats", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var s risk.UserSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 1, s.TotalTransactions)
	assert.Equal(t, 1, s.HighRiskCount)
	assert.Equal(t, 100.0, s.HighRiskPercentage)
}

func TestAdminRoutes(t *testing.T) {
	r, _ := setupRouter(t)
	do(r, http.MethodPost, "/v1/transactions", alice, map[string]any{"amount": 150000, "merchant": "Jeweller"})
	do(r, http.MethodPost, "/v1/transactions", bob, map[string]any{"amount": 1, "merchant": "Z"})

	w := do(r, http.MethodGet, "/v1/admin/transactions", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/v1/admin/transactions", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = do(r, http.MethodGet, "/v1/admin/transactions?userId="+bob, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(r, http.MethodGet, "/v1/admin/transactions?userId=robert", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/v1/admin/transactions/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var g risk.GlobalSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Equal(t, 2, g.TotalTransactions)
	assert.Equal(t, 2, g.TotalUsers)
	require.Len(t, g.Users, 2)
	assert.Equal(t, alice, g.Users[0].UserID)
	assert.Equal(t, risk.LevelHigh, g.Users[0].OverallRiskLevel)
}

package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/vertexlabs/vertexpay/internal/jobs"
	"github.com/vertexlabs/vertexpay/internal/ledger"
	"github.com/vertexlabs/vertexpay/internal/money"
)

func setupRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	tolerance, _ := money.Parse("1.00")
	handler := NewHandler(f.svc, tolerance)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Set("authUserID", c.GetHeader("X-User-ID"))
		c.Next()
	})
	handler.RegisterRoutes(v1)
	return r, f
}

func doRequest(r *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateJobPayment(t *testing.T) {
	r, f := setupRouter(t)
	f.seedJob(jobs.StatusOpen)

	w := doRequest(r, "POST", "/v1/jobs/job-1/payment", "client-1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Payment PaymentAuthorization `json:"payment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Payment.ClientSecret == "" {
		t.Error("expected a client secret in the response")
	}
}

func TestHandler_CreateJobPayment_Errors(t *testing.T) {
	tests := []struct {
		name   string
		jobID  string
		caller string
		status int
		code   string
	}{
		{"unknown job", "job-404", "client-1", http.StatusNotFound, "not_found"},
		{"wrong caller", "job-1", "provider-1", http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, f := setupRouter(t)
			f.seedJob(jobs.StatusOpen)

			w := doRequest(r, "POST", "/v1/jobs/"+tt.jobID+"/payment", tt.caller, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			var resp map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if resp["error"] != tt.code {
				t.Errorf("error code = %v, want %s", resp["error"], tt.code)
			}
		})
	}
}

func TestHandler_CreateJobPayment_Conflict(t *testing.T) {
	r, f := setupRouter(t)
	f.seedJob(jobs.StatusOpen)

	if w := doRequest(r, "POST", "/v1/jobs/job-1/payment", "client-1", nil); w.Code != http.StatusCreated {
		t.Fatalf("first payment: status = %d", w.Code)
	}
	w := doRequest(r, "POST", "/v1/jobs/job-1/payment", "client-1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second payment: status = %d, want 409", w.Code)
	}
}

func TestHandler_Refund(t *testing.T) {
	r, f := setupRouter(t)
	f.seedJob(jobs.StatusOpen)
	f.fundJob(t)

	t.Run("missing reason rejected", func(t *testing.T) {
		w := doRequest(r, "POST", "/v1/jobs/job-1/refund", "client-1", map[string]any{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("refund succeeds", func(t *testing.T) {
		w := doRequest(r, "POST", "/v1/jobs/job-1/refund", "client-1", RefundRequest{Reason: "changed plans"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
	})
}

func TestHandler_Wallet(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "GET", "/v1/wallet", "client-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["wallet"]["availableBalance"] != "0.000000" {
		t.Errorf("available = %v, want 0.000000", resp["wallet"]["availableBalance"])
	}
}

func TestHandler_Withdraw(t *testing.T) {
	r, f := setupRouter(t)
	_ = f.store.ApplyDelta(context.Background(), "provider-1", ledger.WalletDelta{Available: mustParse(t, "100.00")})

	t.Run("bad amount", func(t *testing.T) {
		w := doRequest(r, "POST", "/v1/wallet/withdraw", "provider-1", WithdrawRequest{Amount: "-5"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		w := doRequest(r, "POST", "/v1/wallet/withdraw", "provider-1", WithdrawRequest{Amount: "500.00"})
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422: %s", w.Code, w.Body.String())
		}
	})

	t.Run("success", func(t *testing.T) {
		w := doRequest(r, "POST", "/v1/wallet/withdraw", "provider-1", WithdrawRequest{Amount: "50.00"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
	})
}

func TestHandler_ListTransactions(t *testing.T) {
	r, f := setupRouter(t)
	for i := 0; i < 3; i++ {
		_ = f.store.CreateTransaction(context.Background(), &ledger.Transaction{
			UserID: "provider-1", Type: ledger.TypeEscrowRelease,
			Amount: "10.000000", Currency: "usd", Status: ledger.StatusCompleted,
		})
	}

	t.Run("pages with cursor", func(t *testing.T) {
		w := doRequest(r, "GET", "/v1/wallet/transactions?limit=2", "provider-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Count      int    `json:"count"`
			NextCursor string `json:"nextCursor"`
			HasMore    bool   `json:"hasMore"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Count != 2 || !resp.HasMore || resp.NextCursor == "" {
			t.Fatalf("first page: %+v", resp)
		}

		w = doRequest(r, "GET", "/v1/wallet/transactions?limit=2&cursor="+resp.NextCursor, "provider-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("second page status = %d: %s", w.Code, w.Body.String())
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.HasMore {
			t.Errorf("second page: %+v", resp)
		}
	})

	t.Run("malformed cursor rejected", func(t *testing.T) {
		w := doRequest(r, "GET", "/v1/wallet/transactions?cursor=%21%21", "provider-1", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
		}
	})
}

func TestHandler_AccountStatus(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "GET", "/v1/account/status", "client-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]AccountStatus
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["account"].HasAccount {
		t.Error("expected no connected account")
	}
}

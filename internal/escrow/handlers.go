package escrow

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vertexlabs/vertexpay/internal/accounts"
	"github.com/vertexlabs/vertexpay/internal/gateway"
	"github.com/vertexlabs/vertexpay/internal/jobs"
	"github.com/vertexlabs/vertexpay/internal/ledger"
	"github.com/vertexlabs/vertexpay/internal/money"
	"github.com/vertexlabs/vertexpay/internal/pagination"
)

// Handler provides HTTP endpoints for payment operations.
type Handler struct {
	service   *Service
	tolerance *big.Int
}

// NewHandler creates a new payment handler. tolerance is the reconciliation
// drift threshold for the sync endpoint.
func NewHandler(service *Service, tolerance *big.Int) *Handler {
	return &Handler{service: service, tolerance: tolerance}
}

// RegisterRoutes sets up payment routes. The group is expected to carry the
// caller-identity middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs/:id/payment", h.CreateJobPayment)
	r.POST("/jobs/:id/release", h.ReleasePayment)
	r.POST("/jobs/:id/refund", h.RefundPayment)
	r.GET("/jobs/:id/transactions", h.ListJobTransactions)

	r.GET("/wallet", h.GetWallet)
	r.GET("/wallet/transactions", h.ListTransactions)
	r.POST("/wallet/withdraw", h.Withdraw)
	r.POST("/wallet/sync", h.SyncBalance)

	r.POST("/account/onboarding", h.OnboardingLink)
	r.GET("/account/status", h.AccountStatus)
}

// caller returns the authenticated user ID set by the identity middleware.
func caller(c *gin.Context) string {
	return c.GetString("authUserID")
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrIntentExists):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
		code = "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, pagination.ErrInvalidCursor):
		status = http.StatusBadRequest
		code = "invalid_cursor"
	case errors.Is(err, ErrNoConnectedAccount):
		status = http.StatusPreconditionFailed
		code = "no_connected_account"
	case gateway.IsGatewayError(err):
		status = http.StatusBadGateway
		code = "gateway_error"
	}

	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

// CreateJobPayment handles POST /v1/jobs/:id/payment
func (h *Handler) CreateJobPayment(c *gin.Context) {
	auth, err := h.service.CreateJobPayment(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": auth})
}

// ReleasePayment handles POST /v1/jobs/:id/release
func (h *Handler) ReleasePayment(c *gin.Context) {
	result, err := h.service.ReleasePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"release": result})
}

// RefundRequest is the body for POST /v1/jobs/:id/refund.
type RefundRequest struct {
	Reason        string `json:"reason" binding:"required"`
	AdminOverride bool   `json:"adminOverride"`
}

// RefundPayment handles POST /v1/jobs/:id/refund
func (h *Handler) RefundPayment(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.RefundPayment(c.Request.Context(), c.Param("id"), caller(c), req.Reason, req.AdminOverride)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refund": result})
}

// ListJobTransactions handles GET /v1/jobs/:id/transactions
func (h *Handler) ListJobTransactions(c *gin.Context) {
	txns, err := h.service.ListJobTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetWallet handles GET /v1/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	wallet, err := h.service.GetWallet(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

// ListTransactions handles GET /v1/wallet/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	txns, next, hasMore, err := h.service.ListTransactions(c.Request.Context(), caller(c), c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
		"nextCursor":   next,
		"hasMore":      hasMore,
	})
}

// WithdrawRequest is the body for POST /v1/wallet/withdraw.
type WithdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Withdraw handles POST /v1/wallet/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if _, ok := money.Parse(req.Amount); !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal",
		})
		return
	}

	txn, err := h.service.WithdrawFunds(c.Request.Context(), caller(c), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": txn})
}

// SyncBalance handles POST /v1/wallet/sync
func (h *Handler) SyncBalance(c *gin.Context) {
	result, err := h.service.SyncBalance(c.Request.Context(), caller(c), h.tolerance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync": result})
}

// OnboardingLink handles POST /v1/account/onboarding
func (h *Handler) OnboardingLink(c *gin.Context) {
	url, err := h.service.OnboardingLink(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// AccountStatus handles GET /v1/account/status
func (h *Handler) AccountStatus(c *gin.Context) {
	status, err := h.service.GetAccountStatus(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": status})
}

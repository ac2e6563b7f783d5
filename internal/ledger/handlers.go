package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/spendguard/internal/auth"
	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/pagination"
	"github.com/mbd888/spendguard/internal/txn"
	"github.com/mbd888/spendguard/internal/validation"
)

// Handler provides HTTP endpoints for transactions
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new transactions handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logging.Component(logger, logging.ComponentHTTP)}
}

// RegisterRoutes sets up routes for the calling user's own transactions
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/stats", h.UserStats)
}

// RegisterAdminRoutes sets up admin-only cross-user routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.AdminListTransactions)
	r.GET("/transactions/stats", h.GlobalStats)
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": "amount and merchant are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.NonNegativeAmount("amount", *req.Amount),
		validation.Required("merchant", req.Merchant),
		validation.MaxLength("merchant", req.Merchant, validation.MaxMerchantLength),
		validation.MaxLength("category", deref(req.Category), validation.MaxLabelLength),
		validation.MaxLength("location", deref(req.Location), validation.MaxLabelLength),
		validation.ValidCurrency("currency", req.Currency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	rec, err := h.ledger.Record(c.Request.Context(), auth.GetUserID(c), req)
	if errors.Is(err, ErrUnknownOwner) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "User no longer exists",
		})
		return
	}
	if errors.Is(err, txn.ErrInvalidTransaction) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("record transaction failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record transaction",
		})
		return
	}

	c.JSON(http.StatusCreated, rec)
}

// ListTransactions handles GET /v1/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "cursor is malformed"})
		return
	}

	page, err := h.ledger.History(c.Request.Context(), auth.GetUserID(c), ListOptions{
		Limit:  pagination.ParseLimit(c.Query("limit")),
		Cursor: cursor,
	})
	if err != nil {
		logging.L(c.Request.Context()).Error("list transactions failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// UserStats handles GET /v1/transactions/stats
func (h *Handler) UserStats(c *gin.Context) {
	summary, err := h.ledger.UserStats(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		logging.L(c.Request.Context()).Error("user stats failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// AdminListTransactions handles GET /v1/admin/transactions?userId=
func (h *Handler) AdminListTransactions(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID != "" && !validation.IsValidID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "userId is not a valid identifier"})
		return
	}

	items, err := h.ledger.ListAll(c.Request.Context(), userID)
	if err != nil {
		logging.L(c.Request.Context()).Error("admin list failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GlobalStats handles GET /v1/admin/transactions/stats
func (h *Handler) GlobalStats(c *gin.Context) {
	summary, err := h.ledger.GlobalStats(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("global stats failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

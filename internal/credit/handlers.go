package credit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/activity"
	"github.com/swipefi/swipefi/internal/ledger"
	"github.com/swipefi/swipefi/internal/pagination"
	"github.com/swipefi/swipefi/internal/scoring"
	"github.com/swipefi/swipefi/internal/validation"
)

// Handler provides HTTP endpoints for scoring and the credit ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a new credit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public credit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	addr := validation.AddressParamMiddleware()
	r.GET("/wallets/:address/credit-score", addr, h.GetCreditScore)
	r.GET("/wallets/:address/transactions", addr, h.ListTransactions)
	r.POST("/wallets/:address/transactions", addr, h.CreateTransaction)
	r.POST("/credit-score/evaluate", h.EvaluateSnapshot)
}

// RegisterAdminRoutes sets up admin-only credit routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/wallets/:address/activity", validation.AddressParamMiddleware(), h.IngestActivity)
	r.PUT("/transactions/:id", h.UpdateTransaction)
	r.POST("/ledger/sweep-overdue", h.SweepOverdue)
}

// GetCreditScore handles GET /v1/wallets/:address/credit-score
func (h *Handler) GetCreditScore(c *gin.Context) {
	eval, err := h.service.Evaluate(c.Request.Context(), c.Param("address"))
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "source_unavailable",
				"message": "Wallet activity is temporarily unavailable",
			})
			return
		}
		internalError(c, "Failed to calculate credit score")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": eval})
}

// EvaluateSnapshot handles POST /v1/credit-score/evaluate
func (h *Handler) EvaluateSnapshot(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must contain a wallet activity snapshot",
		})
		return
	}
	if req.OutstandingBalance != nil && *req.OutstandingBalance < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outstandingBalance must not be negative",
		})
		return
	}

	eval, err := h.service.EvaluateSnapshot(c.Request.Context(), req)
	if err != nil {
		internalError(c, "Failed to calculate credit score")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": eval})
}

// ListTransactions handles GET /v1/wallets/:address/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	page, err := h.service.Transactions(c.Request.Context(), c.Param("address"), limit, c.Query("cursor"))
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	if err != nil {
		internalError(c, "Failed to fetch transactions")
		return
	}

	resp := gin.H{
		"success": true,
		"data":    page.Records,
		"count":   len(page.Records),
		"hasMore": page.HasMore,
	}
	if page.NextCursor != "" {
		resp["nextCursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// CreateTransaction handles POST /v1/wallets/:address/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Amount and type are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.OneOf("type", req.Type, string(ledger.TypeSpend), string(ledger.TypeRepay)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": `Type must be either "spend" or "repay"`,
			"details": errs,
		})
		return
	}

	amount, ok := validation.ParseAmount(req.Amount.String())
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be greater than 0",
		})
		return
	}

	ctx := c.Request.Context()
	address := c.Param("address")

	var (
		rec *ledger.Record
		err error
	)
	if ledger.Type(req.Type) == ledger.TypeSpend {
		rec, err = h.service.Spend(ctx, address, amount)
	} else {
		rec, err = h.service.Repay(ctx, address, amount)
	}
	if err != nil {
		writeLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}

// IngestActivity handles PUT /v1/admin/wallets/:address/activity
func (h *Handler) IngestActivity(c *gin.Context) {
	var snap scoring.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be a wallet activity snapshot",
		})
		return
	}
	snap.Address = c.Param("address")

	stored, err := h.service.Ingest(c.Request.Context(), snap)
	if err != nil {
		switch {
		case errors.Is(err, ErrIngestDisabled):
			c.JSON(http.StatusNotImplemented, gin.H{"error": "ingest_disabled", "message": err.Error()})
		case errors.Is(err, activity.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
		default:
			internalError(c, "Failed to store wallet activity")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": stored})
}

// UpdateTransaction handles PUT /v1/admin/transactions/:id
func (h *Handler) UpdateTransaction(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Status is required",
		})
		return
	}

	rec, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), ledger.Status(req.Status))
	if err != nil {
		writeLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}

// SweepOverdue handles POST /v1/admin/ledger/sweep-overdue
func (h *Handler) SweepOverdue(c *gin.Context) {
	count, err := h.service.SweepOverdue(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to sweep overdue spends")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"marked": count}})
}

func writeLedgerError(c *gin.Context, err error) {
	var limitErr *ledger.LimitError
	switch {
	case errors.As(err, &limitErr) && errors.Is(err, ledger.ErrInsufficientCredit):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "insufficient_credit",
			"message":   "Insufficient credit. Available: $" + formatUSD(limitErr.Limit),
			"available": limitErr.Limit,
		})
	case errors.As(err, &limitErr) && errors.Is(err, ledger.ErrRepayExceedsBalance):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "repay_exceeds_balance",
			"message":     "Repayment amount exceeds outstanding balance. Outstanding: $" + formatUSD(limitErr.Limit),
			"outstanding": limitErr.Limit,
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be greater than 0"})
	case errors.Is(err, ledger.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": err.Error()})
	case errors.Is(err, ledger.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transaction not found"})
	case errors.Is(err, ErrSourceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "source_unavailable",
			"message": "Cannot verify credit limit while wallet activity is unavailable",
		})
	default:
		internalError(c, "Failed to record transaction")
	}
}

func internalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": message})
}

// formatUSD renders d with thousands separators, e.g. 12,500.5.
func formatUSD(d decimal.Decimal) string {
	s := d.Round(2).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

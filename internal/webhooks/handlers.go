package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/swipefi/swipefi/internal/events"
	"github.com/swipefi/swipefi/internal/validation"
)

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store      Store
	dispatcher *Dispatcher
}

// NewHandler creates a new webhook handler
func NewHandler(store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
	}
}

// RegisterAdminRoutes sets up webhook management routes. Subscriptions make
// the server call arbitrary URLs, so they live behind the admin guard.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/wallets/:address/webhooks", validation.AddressParamMiddleware(), h.CreateWebhook)
	r.GET("/wallets/:address/webhooks", validation.AddressParamMiddleware(), h.ListWebhooks)
	r.DELETE("/wallets/:address/webhooks/:webhookId", validation.AddressParamMiddleware(), h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

var knownEvents = []string{
	string(events.ScoreEvaluated),
	string(events.Spend),
	string(events.Repay),
	string(events.Overdue),
}

// CreateWebhook handles POST /admin/wallets/:address/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := h.dispatcher.urlValidator(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "events: at least one event type is required",
		})
		return
	}
	eventTypes := make([]events.Type, 0, len(req.Events))
	for _, e := range req.Events {
		if errs := validation.Validate(validation.OneOf("events", e, knownEvents...)); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": errs.Error(),
			})
			return
		}
		eventTypes = append(eventTypes, events.Type(e))
	}

	secret := generateSecret()
	sub := &Subscription{
		ID:         "wh_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		WalletAddr: address,
		URL:        req.URL,
		Secret:     secret,
		Events:     eventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"webhook": sub,
			"secret":  secret, // Only shown once!
			"usage": gin.H{
				"signature": "Verify with HMAC-SHA256(payload, secret)",
				"header":    HeaderSignature,
			},
		},
	})
}

// ListWebhooks handles GET /admin/wallets/:address/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	subs, err := h.store.ListByWallet(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": subs, "count": len(subs)})
}

// DeleteWebhook handles DELETE /admin/wallets/:address/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	err := h.store.Delete(c.Request.Context(), address, c.Param("webhookId"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "deleted"}})
}

func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

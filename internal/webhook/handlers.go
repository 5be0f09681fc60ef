package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vertexlabs/vertexpay/internal/metrics"
)

// maxPayloadBytes caps webhook bodies; gateway events are small.
const maxPayloadBytes = 1 << 20

// Handler exposes the webhook ingestion endpoint.
type Handler struct {
	ingestor *Ingestor
}

// NewHandler creates a new webhook handler.
func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{ingestor: ingestor}
}

// RegisterRoutes sets up the webhook route. No auth middleware: the
// signature check is the authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleStripe)
}

// HandleStripe handles POST /v1/webhooks/stripe
//
// A non-2xx response makes the gateway redeliver, so processing failures
// return 500 and duplicates return 200.
func (h *Handler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Could not read request body",
		})
		return
	}

	event, err := h.ingestor.VerifyAndParse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
		return
	}

	duplicate, err := h.ingestor.Process(c.Request.Context(), event)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": err.Error(),
		})
		return
	}
	if duplicate {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

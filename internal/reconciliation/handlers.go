package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vertexlabs/vertexpay/internal/accounts"
)

// Handler exposes the admin reconciliation endpoint.
type Handler struct {
	service *Service
	dir     accounts.Directory
}

// NewHandler creates a new reconciliation handler.
func NewHandler(service *Service, dir accounts.Directory) *Handler {
	return &Handler{service: service, dir: dir}
}

// RegisterRoutes sets up admin routes on an identity-carrying group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/reconcile", h.RunSweep)
}

// RunSweep handles POST /v1/admin/reconcile
func (h *Handler) RunSweep(c *gin.Context) {
	acct, err := h.dir.Get(c.Request.Context(), c.GetString("authUserID"))
	if err != nil || !acct.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Admin role required",
		})
		return
	}

	report, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

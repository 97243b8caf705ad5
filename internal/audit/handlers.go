package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/logging"
)

// Handler exposes the event trail over HTTP.
type Handler struct {
	store Store
}

// NewHandler creates a new audit handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up the read-only event routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.ListEvents)
}

// ListEvents handles GET /v1/events?topic=&invocation=&address=&audit=&before=&limit=
func (h *Handler) ListEvents(c *gin.Context) {
	f := Filter{
		Topic:      c.Query("topic"),
		Invocation: c.Query("invocation"),
		Address:    c.Query("address"),
		AuditOnly:  c.Query("audit") == "true",
	}
	if v := c.Query("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "before must be a non-negative integer"})
			return
		}
		f.Before = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}

	records, err := h.store.Query(c.Request.Context(), f)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to query events"})
		return
	}
	if records == nil {
		records = []Record{}
	}

	resp := gin.H{"events": records, "count": len(records)}
	if len(records) > 0 && len(records) == f.limit() {
		resp["nextBefore"] = records[len(records)-1].Seq
	}
	c.JSON(http.StatusOK, resp)
}

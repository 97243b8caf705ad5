package escrow

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/pagination"
	"github.com/zapspay/settlement/internal/token"
	"github.com/zapspay/settlement/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrow", h.ListOpen)
	r.GET("/escrow/:id", h.GetEscrow)
}

// RegisterProtectedRoutes sets up protected (auth-required) escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrow", h.LockEscrow)
	r.POST("/escrow/:id/release", h.ReleaseEscrow)
	r.POST("/escrow/:id/refund", h.RefundEscrow)
}

// LockHTTPRequest is the body of POST /v1/escrow. The buyer is the
// authenticated caller.
type LockHTTPRequest struct {
	ID         string `json:"id" binding:"required"`
	Seller     string `json:"seller" binding:"required"`
	Arbitrator string `json:"arbitrator"`
	Asset      string `json:"asset" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Memo       string `json:"memo"`
}

// LockEscrow handles POST /v1/escrow
func (h *Handler) LockEscrow(c *gin.Context) {
	var req LockHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidTag("id", req.ID),
		validation.ValidTag("memo", req.Memo),
		validation.ValidAddress("seller", req.Seller),
		validation.ValidAddress("arbitrator", req.Arbitrator),
		validation.ValidCode("asset", req.Asset),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	id, _ := ParseTag(req.ID)
	var memo Tag
	if req.Memo != "" {
		memo, _ = ParseTag(req.Memo)
	}
	amt, err := amount.Parse(req.Amount, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	escrow, err := h.service.LockWithArbitrator(c.Request.Context(), LockRequest{
		ID:         id,
		Buyer:      auth.GetPrincipal(c),
		Seller:     validation.SanitizeAddress(req.Seller),
		Arbitrator: strings.ToLower(req.Arbitrator),
		Asset:      req.Asset,
		Amount:     amt,
		Memo:       memo,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": escrow})
}

// GetEscrow handles GET /v1/escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	escrow, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// ListOpen handles GET /v1/escrow
func (h *Handler) ListOpen(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	escrows, err := h.service.ListOpen(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if buyer := c.Query("buyer"); buyer != "" {
		escrows = filterEscrows(escrows, func(e *Escrow) bool { return strings.EqualFold(e.Buyer, buyer) })
	}
	if seller := c.Query("seller"); seller != "" {
		escrows = filterEscrows(escrows, func(e *Escrow) bool { return strings.EqualFold(e.Seller, seller) })
	}

	page := pagination.Paginate(escrows, cursor, limit, func(e *Escrow) (time.Time, string) {
		return e.CreatedAt, e.ID.String()
	})
	items := page.Items
	if items == nil {
		items = []*Escrow{}
	}
	resp := gin.H{
		"escrows": items,
		"count":   len(items),
		"hasMore": page.HasMore,
	}
	if page.HasMore {
		resp["nextCursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}

func filterEscrows(in []*Escrow, keep func(*Escrow) bool) []*Escrow {
	out := in[:0]
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// ReleaseEscrow handles POST /v1/escrow/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	escrow, err := h.service.Release(c.Request.Context(), id, auth.GetPrincipal(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// RefundEscrow handles POST /v1/escrow/:id/refund
func (h *Handler) RefundEscrow(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	escrow, err := h.service.Refund(c.Request.Context(), id, auth.GetPrincipal(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

func parseIDParam(c *gin.Context) (Tag, bool) {
	id, err := ParseTag(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": err.Error(),
		})
		return Tag{}, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotLocked):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrNotAuthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrAlreadyLocked):
		status, code = http.StatusConflict, "already_locked"
	case errors.Is(err, ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidArbitrator):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, token.ErrInsufficientFunds), errors.Is(err, token.ErrUnknownAsset):
		status, code = http.StatusUnprocessableEntity, "transfer_failed"
	case host.IsFatal(err):
		code = "aborted"
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

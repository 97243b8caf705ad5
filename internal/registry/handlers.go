package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/logging"
	"github.com/zapspay/settlement/internal/pagination"
	"github.com/zapspay/settlement/internal/validation"
)

// Handler provides HTTP handlers for the merchant registry API
type Handler struct {
	service *Service
}

// NewHandler creates a new registry handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the public registry routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants", h.ListMerchants)
	r.GET("/merchants/:merchantId", h.GetMerchant)
}

// RegisterProtectedRoutes sets up admin (auth-required) registry routes
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/merchants", h.RegisterMerchant)
	r.PUT("/merchants/:merchantId/active", h.SetActive)
	r.PUT("/merchants/:merchantId/fx-router", h.SetFXRouter)
	r.PUT("/merchants/:merchantId/settlement-asset", h.SetSettlementAsset)
}

// RegisterMerchant handles POST /v1/merchants
func (h *Handler) RegisterMerchant(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "merchantId, settlementAsset and vault are required",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidCode("merchantId", req.MerchantID),
		validation.ValidCode("settlementAsset", req.SettlementAsset),
		validation.ValidAddress("vault", req.Vault),
		validation.ValidAddress("fxRouter", req.FXRouter),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	req.Vault = validation.SanitizeAddress(req.Vault)
	if req.FXRouter != "" {
		req.FXRouter = validation.SanitizeAddress(req.FXRouter)
	}

	m, err := h.service.RegisterMerchant(ctx, req)
	if err != nil {
		logger.Warn("merchant registration failed", "merchant", req.MerchantID, "caller", auth.GetPrincipal(c), "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"merchant": m})
}

// GetMerchant handles GET /v1/merchants/:merchantId
func (h *Handler) GetMerchant(c *gin.Context) {
	m, err := h.service.GetMerchant(c.Request.Context(), c.Param("merchantId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// ListMerchants handles GET /v1/merchants
func (h *Handler) ListMerchants(c *gin.Context) {
	cursor, limit, ok := pageParams(c)
	if !ok {
		return
	}
	merchants, err := h.service.ListMerchants(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	activeOnly := c.Query("active") == "true"
	filtered := make([]*Merchant, 0, len(merchants))
	for _, m := range merchants {
		if activeOnly && !m.Active {
			continue
		}
		filtered = append(filtered, m)
	}

	page := pagination.Paginate(filtered, cursor, limit, func(m *Merchant) (time.Time, string) {
		return m.CreatedAt, m.MerchantID
	})
	resp := gin.H{
		"merchants": page.Items,
		"count":     len(page.Items),
		"hasMore":   page.HasMore,
	}
	if page.HasMore {
		resp["nextCursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}

func pageParams(c *gin.Context) (*pagination.Cursor, int, bool) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return nil, 0, false
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return nil, 0, false
	}
	return cursor, limit, true
}

// SetActive handles PUT /v1/merchants/:merchantId/active
func (h *Handler) SetActive(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "active is required"})
		return
	}
	m, err := h.service.SetActive(c.Request.Context(), c.Param("merchantId"), *req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// SetFXRouter handles PUT /v1/merchants/:merchantId/fx-router
func (h *Handler) SetFXRouter(c *gin.Context) {
	var req struct {
		FXRouter string `json:"fxRouter"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(validation.ValidAddress("fxRouter", req.FXRouter)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	ref := req.FXRouter
	if ref != "" {
		ref = validation.SanitizeAddress(ref)
	}
	m, err := h.service.SetFXRouter(c.Request.Context(), c.Param("merchantId"), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// SetSettlementAsset handles PUT /v1/merchants/:merchantId/settlement-asset
func (h *Handler) SetSettlementAsset(c *gin.Context) {
	var req struct {
		SettlementAsset string `json:"settlementAsset" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "settlementAsset is required"})
		return
	}
	if errs := validation.Validate(validation.ValidCode("settlementAsset", req.SettlementAsset)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	m, err := h.service.SetSettlementAsset(c.Request.Context(), c.Param("merchantId"), req.SettlementAsset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrMerchantNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrMerchantExists):
		status, code = http.StatusConflict, "merchant_exists"
	case errors.Is(err, auth.ErrNotAuthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrInvalidMerchant):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrNoIdentity):
		status, code = http.StatusUnprocessableEntity, "no_identity"
	case errors.Is(err, ErrNotInitialized):
		status, code = http.StatusServiceUnavailable, "not_initialized"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/registry"
	"github.com/zapspay/settlement/internal/token"
	"github.com/zapspay/settlement/internal/validation"
)

// Handler provides HTTP endpoints for payments.
type Handler struct {
	router *Router
}

// NewHandler creates a new payment handler.
func NewHandler(r *Router) *Handler {
	return &Handler{router: r}
}

// RegisterRoutes sets up public payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/config", h.GetConfig)
}

// RegisterProtectedRoutes sets up protected (auth-required) payment routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.Pay)
}

// PayHTTPRequest is the body of POST /v1/payments. The payer is the
// authenticated caller.
type PayHTTPRequest struct {
	MerchantID string `json:"merchant_id" binding:"required"`
	SendAsset  string `json:"send_asset" binding:"required"`
	SendAmount string `json:"send_amount" binding:"required"`
	MinReceive string `json:"min_receive" binding:"required"`
}

// Pay handles POST /v1/payments
func (h *Handler) Pay(c *gin.Context) {
	var req PayHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidCode("merchant_id", req.MerchantID),
		validation.ValidCode("send_asset", req.SendAsset),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	send, err := amount.Parse(req.SendAmount, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "send_amount: " + err.Error()})
		return
	}
	minReceive, err := amount.Parse(req.MinReceive, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "min_receive: " + err.Error()})
		return
	}

	settled, err := h.router.Pay(c.Request.Context(), PayRequest{
		From:       auth.GetPrincipal(c),
		MerchantID: req.MerchantID,
		SendAsset:  req.SendAsset,
		SendAmount: send,
		MinReceive: minReceive,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"settled":        settled,
		"settled_amount": amount.Format(settled, amount.Decimals),
	})
}

// GetConfig handles GET /v1/payments/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.router.Config(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg, "address": h.router.Address()})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidSendAmount), errors.Is(err, ErrInvalidMinReceive):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, registry.ErrMerchantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrReentrancy):
		status = http.StatusConflict
	case errors.Is(err, ErrMerchantInactive),
		errors.Is(err, ErrFxRouterMissing),
		errors.Is(err, ErrSettlementBelowMin),
		errors.Is(err, ErrFxSwapFailed),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrUnknownAsset):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrRegistryNotSet):
		status = http.StatusServiceUnavailable
	}
	code := failureReason(err)
	if host.IsFatal(err) {
		code = "aborted"
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

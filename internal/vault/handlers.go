package vault

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
)

// Handler provides HTTP endpoints for one vault.
type Handler struct {
	vault *Vault
}

// NewHandler creates a new vault handler.
func NewHandler(v *Vault) *Handler {
	return &Handler{vault: v}
}

// RegisterRoutes sets up public (read-only) vault routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/vault", h.GetConfig)
	r.GET("/vault/merchants/:merchantId/balance", h.GetBalance)
}

// RegisterProtectedRoutes sets up protected vault routes. The vault itself
// decides which principal may call each one.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/vault/merchants/:merchantId", h.InitMerchant)
	r.POST("/vault/merchants/:merchantId/credit", h.Credit)
	r.POST("/vault/merchants/:merchantId/debit", h.Debit)
}

type amountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// GetConfig handles GET /v1/vault
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.vault.Config(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": h.vault.Address(), "config": cfg})
}

// GetBalance handles GET /v1/vault/merchants/:merchantId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	merchantID := c.Param("merchantId")
	bal, err := h.vault.BalanceOf(c.Request.Context(), merchantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse(merchantID, bal.String(), amount.Format(bal, amount.Decimals)))
}

// InitMerchant handles POST /v1/vault/merchants/:merchantId
func (h *Handler) InitMerchant(c *gin.Context) {
	merchantID := c.Param("merchantId")
	if err := h.vault.InitMerchant(c.Request.Context(), merchantID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, balanceResponse(merchantID, "0", amount.Format(amount.Zero(), amount.Decimals)))
}

// Credit handles POST /v1/vault/merchants/:merchantId/credit
func (h *Handler) Credit(c *gin.Context) {
	h.apply(c, h.vault.Credit)
}

// Debit handles POST /v1/vault/merchants/:merchantId/debit
func (h *Handler) Debit(c *gin.Context) {
	h.apply(c, h.vault.Debit)
}

func (h *Handler) apply(c *gin.Context, op func(ctx context.Context, merchantID string, amt *big.Int) (*big.Int, error)) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amount is required"})
		return
	}
	amt, err := amount.Parse(req.Amount, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	merchantID := c.Param("merchantId")
	bal, err := op(c.Request.Context(), merchantID, amt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse(merchantID, bal.String(), amount.Format(bal, amount.Decimals)))
}

func balanceResponse(merchantID, units, formatted string) gin.H {
	return gin.H{
		"merchant_id": merchantID,
		"balance":     units,
		"formatted":   formatted,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrMerchantNotInitialized):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, auth.ErrNotAuthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrAlreadyInitialized):
		status, code = http.StatusConflict, "already_initialized"
	case errors.Is(err, ErrInsufficientBalance):
		status, code = http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ErrNegativeAmount):
		status, code = http.StatusBadRequest, "negative_amount"
	case errors.Is(err, ErrNotInitialized):
		status, code = http.StatusServiceUnavailable, "not_initialized"
	case host.IsFatal(err):
		code = "aborted"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

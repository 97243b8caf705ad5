package token

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/validation"
)

// Handler provides HTTP endpoints for asset custody.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new asset handler.
func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// RegisterRoutes sets up public (read-only) asset routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assets/:code", h.GetAsset)
	r.GET("/assets/:code/balances/:address", validation.AddressParamMiddleware(), h.GetBalance)
}

// RegisterProtectedRoutes sets up protected asset routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/assets", h.RegisterAsset)
	r.POST("/assets/:code/mint", h.Mint)
	r.POST("/assets/:code/transfers", h.Transfer)
}

// GetAsset handles GET /v1/assets/:code
func (h *Handler) GetAsset(c *gin.Context) {
	a, err := h.ledger.Asset(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": a})
}

// GetBalance handles GET /v1/assets/:code/balances/:address
func (h *Handler) GetBalance(c *gin.Context) {
	holder := validation.SanitizeAddress(c.Param("address"))
	bal, err := h.ledger.BalanceOf(c.Request.Context(), c.Param("code"), holder)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":     c.Param("code"),
		"holder":    holder,
		"balance":   bal.String(),
		"formatted": amount.Format(bal, amount.Decimals),
	})
}

// RegisterAsset handles POST /v1/assets
func (h *Handler) RegisterAsset(c *gin.Context) {
	var req struct {
		Code   string `json:"code" binding:"required"`
		FeeBps int64  `json:"fee_bps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "code is required"})
		return
	}
	if errs := validation.Validate(validation.ValidCode("code", req.Code)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	a, err := h.ledger.Register(c.Request.Context(), req.Code, req.FeeBps)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": a})
}

type moveRequest struct {
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func bindMove(c *gin.Context) (*moveRequest, bool) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "to and amount are required"})
		return nil, false
	}
	if errs := validation.Validate(
		validation.ValidAddress("to", req.To),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return nil, false
	}
	req.To = validation.SanitizeAddress(req.To)
	return &req, true
}

// Mint handles POST /v1/assets/:code/mint
func (h *Handler) Mint(c *gin.Context) {
	req, ok := bindMove(c)
	if !ok {
		return
	}
	amt, err := amount.Parse(req.Amount, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	if err := h.ledger.Mint(c.Request.Context(), c.Param("code"), req.To, amt); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minted": amt.String(), "to": req.To})
}

// Transfer handles POST /v1/assets/:code/transfers. The sender is the
// authenticated caller.
func (h *Handler) Transfer(c *gin.Context) {
	req, ok := bindMove(c)
	if !ok {
		return
	}
	amt, err := amount.Parse(req.Amount, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	from := auth.GetPrincipal(c)
	if err := h.ledger.Transfer(c.Request.Context(), c.Param("code"), from, req.To, amt); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": req.To, "amount": amt.String()})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrUnknownAsset):
		status, code = http.StatusNotFound, "unknown_asset"
	case errors.Is(err, ErrAssetExists):
		status, code = http.StatusConflict, "asset_exists"
	case errors.Is(err, auth.ErrNotAuthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrInsufficientFunds):
		status, code = http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidFee), errors.Is(err, ErrInvalidAsset):
		status, code = http.StatusBadRequest, "validation_error"
	case host.IsFatal(err):
		code = "aborted"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

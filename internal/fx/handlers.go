package fx

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/amount"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/token"
)

// Handler exposes the venue's rates, quotes and liquidity over HTTP.
type Handler struct {
	router *Router
}

// NewHandler creates a new fx handler
func NewHandler(r *Router) *Handler {
	return &Handler{router: r}
}

// RegisterRoutes sets up public fx routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fx/rates/:src/:dst", h.GetRate)
	r.GET("/fx/quote", h.Quote)
	r.GET("/fx/reserves/:asset", h.GetReserve)
}

// RegisterProtectedRoutes sets up fx admin and liquidity routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.PUT("/fx/rates", h.SetRate)
	r.POST("/fx/liquidity", h.AddLiquidity)
}

// GetRate handles GET /v1/fx/rates/:src/:dst
func (h *Handler) GetRate(c *gin.Context) {
	rate, err := h.router.Rate(c.Request.Context(), code(c.Param("src")), code(c.Param("dst")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": rate})
}

// Quote handles GET /v1/fx/quote?src=&dst=&amount=
func (h *Handler) Quote(c *gin.Context) {
	amt, err := amount.Parse(c.Query("amount"), amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	out, err := h.router.Quote(c.Request.Context(), code(c.Query("src")), amt, code(c.Query("dst")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"src":       code(c.Query("src")),
		"dst":       code(c.Query("dst")),
		"amount":    amt.String(),
		"receive":   out.String(),
		"formatted": amount.Format(out, amount.Decimals),
	})
}

// GetReserve handles GET /v1/fx/reserves/:asset
func (h *Handler) GetReserve(c *gin.Context) {
	asset := code(c.Param("asset"))
	res, err := h.router.Reserve(c.Request.Context(), asset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "reserve": res.String(), "formatted": amount.Format(res, amount.Decimals)})
}

// SetRateRequest sets src->dst to num/den.
type SetRateRequest struct {
	Src string `json:"src" binding:"required"`
	Dst string `json:"dst" binding:"required"`
	Num string `json:"num" binding:"required"`
	Den string `json:"den" binding:"required"`
}

// SetRate handles PUT /v1/fx/rates (venue admin only)
func (h *Handler) SetRate(c *gin.Context) {
	var req SetRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "src, dst, num and den are required"})
		return
	}
	num, okNum := new(big.Int).SetString(req.Num, 10)
	den, okDen := new(big.Int).SetString(req.Den, 10)
	if !okNum || !okDen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "num and den must be integers"})
		return
	}
	if err := h.router.SetRate(c.Request.Context(), code(req.Src), code(req.Dst), num, den); err != nil {
		writeError(c, err)
		return
	}
	rate, _ := h.router.Rate(c.Request.Context(), code(req.Src), code(req.Dst))
	c.JSON(http.StatusOK, gin.H{"rate": rate})
}

// LiquidityRequest moves the caller's funds into the venue's reserve.
type LiquidityRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// AddLiquidity handles POST /v1/fx/liquidity
func (h *Handler) AddLiquidity(c *gin.Context) {
	var req LiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "asset and amount are required"})
		return
	}
	amt, err := amount.Parse(req.Amount, amount.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	asset := code(req.Asset)
	if err := h.router.AddLiquidity(c.Request.Context(), auth.GetPrincipal(c), asset, amt); err != nil {
		writeError(c, err)
		return
	}
	res, _ := h.router.Reserve(c.Request.Context(), asset)
	c.JSON(http.StatusOK, gin.H{"asset": asset, "reserve": res.String()})
}

func code(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func writeError(c *gin.Context, err error) {
	status, errCode := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrNoRate):
		status, errCode = http.StatusNotFound, "no_rate"
	case errors.Is(err, auth.ErrNotAuthorized):
		status, errCode = http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrInvalidRate), errors.Is(err, ErrInvalidAmount):
		status, errCode = http.StatusBadRequest, "validation_error"
	case errors.Is(err, token.ErrInsufficientFunds):
		status, errCode = http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, token.ErrUnknownAsset):
		status, errCode = http.StatusUnprocessableEntity, "unknown_asset"
	case errors.Is(err, ErrInsufficientLiquidity), errors.Is(err, ErrBelowMinimum):
		status, errCode = http.StatusUnprocessableEntity, "insufficient_liquidity"
	}
	c.JSON(status, gin.H{"error": errCode, "message": err.Error()})
}

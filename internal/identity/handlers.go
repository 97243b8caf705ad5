package identity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zapspay/settlement/internal/auth"
	"github.com/zapspay/settlement/internal/validation"
)

// Handler provides HTTP endpoints for identity records.
type Handler struct {
	service *Service
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public identity routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/identities/:address", validation.AddressParamMiddleware(), h.GetUser)
}

// RegisterProtectedRoutes sets up routes acting on the caller's own record.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/identities", h.Register)
	r.PUT("/identities/role", h.UpdateRole)
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

// Register handles POST /v1/identities
func (h *Handler) Register(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "role is required"})
		return
	}
	u, err := h.service.Register(c.Request.Context(), auth.GetPrincipal(c), validation.SanitizeString(req.Role, 64))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// GetUser handles GET /v1/identities/:address
func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.service.GetUser(c.Request.Context(), validation.SanitizeAddress(c.Param("address")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// UpdateRole handles PUT /v1/identities/role
func (h *Handler) UpdateRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "role is required"})
		return
	}
	u, err := h.service.UpdateRole(c.Request.Context(), auth.GetPrincipal(c), validation.SanitizeString(req.Role, 64))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrUserNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrAlreadyRegistered):
		status, code = http.StatusConflict, "already_registered"
	case errors.Is(err, ErrInvalidRole):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, auth.ErrNotAuthorized):
		status, code = http.StatusForbidden, "unauthorized"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

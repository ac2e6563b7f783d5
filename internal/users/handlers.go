package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/spendguard/internal/auth"
	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/validation"
)

// Handler provides HTTP endpoints for users
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new users handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logging.Component(logger, logging.ComponentHTTP)}
}

// RegisterGatewayRoutes sets up routes the auth gateway calls before a user
// has an identity.
func (h *Handler) RegisterGatewayRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.EnsureUser)
}

// RegisterRoutes sets up routes for authenticated users
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.Me)
}

// RegisterAdminRoutes sets up admin-only user routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.DELETE("/users/:id", validation.IDParamMiddleware("id"), h.DeleteUser)
}

// EnsureUser handles POST /v1/users
func (h *Handler) EnsureUser(c *gin.Context) {
	var req EnsureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.ValidEmail("email", NormalizeEmail(req.Email)),
		validation.MaxLength("name", req.Name, validation.MaxNameLength),
		validation.MaxLength("avatar", req.Avatar, validation.MaxURLLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	u, created, err := h.service.EnsureUser(c.Request.Context(), req)
	if err != nil {
		logging.L(c.Request.Context()).Error("ensure user failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register user",
		})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"user": u, "created": created})
}

// Me handles GET /v1/users/me
func (h *Handler) Me(c *gin.Context) {
	u, err := h.service.Get(c.Request.Context(), auth.GetUserID(c))
	if errors.Is(err, ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("get user failed", logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// DeleteUser handles DELETE /v1/admin/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")

	removed, err := h.service.Delete(c.Request.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("delete user failed", logging.FieldUserID, id, logging.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to delete user"})
		return
	}

	h.logger.Info("user deleted by admin", logging.FieldUserID, id, "admin_id", auth.GetUserID(c))
	c.JSON(http.StatusOK, gin.H{"deleted": id, "transactionsRemoved": removed})
}

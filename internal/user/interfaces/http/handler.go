// Package http exposes registration, login and account management.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avkuzmin/cryptofolio/internal/user/application"
	"github.com/avkuzmin/cryptofolio/internal/user/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/middleware"
	"github.com/avkuzmin/cryptofolio/pkg/response"
)

// UserHandler 处理注册、登录与账户管理请求
type UserHandler struct {
	users *application.UserService
}

func NewUserHandler(users *application.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// RegisterPublicRoutes 挂载无需认证的端点
func (h *UserHandler) RegisterPublicRoutes(router *gin.RouterGroup) {
	router.POST("/register", h.Register)
	router.POST("/login", h.Login)
}

// RegisterProtectedRoutes 挂载需要 JWT 的端点
func (h *UserHandler) RegisterProtectedRoutes(router *gin.RouterGroup) {
	me := router.Group("/me")
	{
		me.GET("", h.Me)
		me.PUT("/email", h.UpdateEmail)
		me.PUT("/password", h.ChangePassword)
		me.DELETE("", h.DeleteAccount)
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			response.ErrorWithStatus(c, http.StatusConflict, "email already registered")
			return
		}
		logger.Error(c.Request.Context(), "registration failed", "error", err)
		response.Error(c, "registration failed")
		return
	}
	response.Created(c, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	token, expiresAt, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logger.Error(c.Request.Context(), "login failed", "error", err)
		response.Error(c, "login failed")
		return
	}
	response.Success(c, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *UserHandler) Me(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "user not found")
			return
		}
		response.Error(c, "failed to load account")
		return
	}
	response.Success(c, user)
}

type updateEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *UserHandler) UpdateEmail(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	var req updateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.users.UpdateEmail(c.Request.Context(), userID, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			response.ErrorWithStatus(c, http.StatusConflict, "email already registered")
			return
		}
		if errors.Is(err, domain.ErrUserNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "user not found")
			return
		}
		response.Error(c, "failed to update email")
		return
	}
	response.Success(c, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "current password is wrong")
			return
		}
		response.Error(c, "failed to change password")
		return
	}
	response.Success(c, nil)
}

func (h *UserHandler) DeleteAccount(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	if err := h.users.Delete(c.Request.Context(), userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "user not found")
			return
		}
		response.Error(c, "failed to delete account")
		return
	}
	response.Success(c, nil)
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/api/middleware"
	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/service"
)

// AccountManager is the account lifecycle behind /api/users.
type AccountManager interface {
	Signup(ctx context.Context, in service.SignupInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Logout(ctx context.Context, token string) (*service.AuthResult, error)
	Home(ctx context.Context, token string) (*service.AuthResult, error)
	Delete(ctx context.Context, id *auth.Identity) (*service.AuthResult, error)
}

// UserHandler handles sign-up, sign-in and the session cookie.
type UserHandler struct {
	accounts AccountManager
	cookie   config.CookieConfig
}

func NewUserHandler(accounts AccountManager, cookie config.CookieConfig) *UserHandler {
	return &UserHandler{accounts: accounts, cookie: cookie}
}

type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Gender   string `json:"gender"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Message                   string `json:"message"`
	EmailVerificationRequired bool   `json:"email_verification_required,omitempty"`
}

// Signup handles POST /api/users/signup.
func (h *UserHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.accounts.Signup(c.Request.Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Gender:   req.Gender,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Login handles POST /api/users/login. Rejected credentials answer 401 with
// the "Email not found" message the frontend redirects on.
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.AccessToken == "" {
		status = http.StatusUnauthorized
	}
	h.respond(c, status, res)
}

// Logout handles POST /api/users/logout.
func (h *UserHandler) Logout(c *gin.Context) {
	res, err := h.accounts.Logout(c.Request.Context(), middleware.Token(c, h.cookie.Name))
	if err != nil {
		writeError(c, err)
		return
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, AuthResponse{Message: res.Message})
}

// Home handles GET /api/users/home.
func (h *UserHandler) Home(c *gin.Context) {
	res, err := h.accounts.Home(c.Request.Context(), middleware.Token(c, h.cookie.Name))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Message: res.Message})
}

// Delete handles DELETE /api/users/me.
func (h *UserHandler) Delete(c *gin.Context) {
	id, _ := middleware.Identity(c)
	res, err := h.accounts.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, AuthResponse{Message: res.Message})
}

func (h *UserHandler) respond(c *gin.Context, status int, res *service.AuthResult) {
	if res.AccessToken != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookie.Name, res.AccessToken, h.cookie.MaxAge, "/", h.cookie.Domain, h.cookie.Secure, true)
	}
	c.JSON(status, AuthResponse{
		Message:                   res.Message,
		EmailVerificationRequired: res.EmailVerificationRequired,
	})
}

func (h *UserHandler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", h.cookie.Domain, h.cookie.Secure, true)
}

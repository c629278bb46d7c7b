package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dairyops/dairyhub/internal/authflow"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// covers one bcrypt hash plus a store round trip
const authTimeout = 5 * time.Second

const resetRequestedMessage = "If an account with that email exists, a password reset link has been sent"

type AuthFlow interface {
	Register(ctx context.Context, in authflow.RegisterInput) (authflow.AuthResult, error)
	Login(ctx context.Context, email, password string) (authflow.AuthResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

type AuthHandler struct {
	flow AuthFlow
}

func NewAuthHandler(flow AuthFlow) *AuthHandler {
	return &AuthHandler{flow: flow}
}

type RegisterRequest struct {
	Name     string    `json:"name" binding:"required,min=2,max=100"`
	Email    string    `json:"email" binding:"required,email,max=254"`
	Password string    `json:"password" binding:"required,min=6,max=72"`
	Role     user.Role `json:"role" binding:"omitempty,oneof=ADMIN USER"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type PasswordResetConfirmRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), authTimeout)
	defer cancel()

	res, err := h.flow.Register(cctx, authflow.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusCreated, "User registered successfully", res)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), authTimeout)
	defer cancel()

	res, err := h.flow.Login(cctx, req.Email, req.Password)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, "Login successful", res)
}

// RequestPasswordReset answers the same way whether or not the account
// exists; only a failed send for a real account is reported.
func (h *AuthHandler) RequestPasswordReset(ctx *gin.Context) {
	var req PasswordResetRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// the reset mail is sent inline, so allow for the notifier timeout
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*authTimeout)
	defer cancel()

	if err := h.flow.RequestPasswordReset(cctx, req.Email); err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, resetRequestedMessage, nil)
}

func (h *AuthHandler) ConfirmPasswordReset(ctx *gin.Context) {
	var req PasswordResetConfirmRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), authTimeout)
	defer cancel()

	if err := h.flow.ConfirmPasswordReset(cctx, req.Token, req.Password); err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, "Password reset successful", nil)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/dairyops/dairyhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type ProfileService interface {
	Profile(ctx context.Context, userID string) (user.User, error)
	UpdateProfile(ctx context.Context, userID, name string) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
}

type ProfileHandler struct {
	svc ProfileService
}

func NewProfileHandler(svc ProfileService) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

type UpdateProfileRequest struct {
	Name string `json:"name" binding:"required,min=2,max=100"`
}

func (h *ProfileHandler) GetProfile(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "User not authenticated")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	u, err := h.svc.Profile(cctx, userID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, "", gin.H{"user": u})
}

func (h *ProfileHandler) UpdateProfile(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "User not authenticated")
		return
	}

	var req UpdateProfileRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.svc.UpdateProfile(cctx, userID, req.Name)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, "Profile updated successfully", gin.H{"user": u})
}

// AdminGetUser is mounted behind RequireAdmin.
func (h *ProfileHandler) AdminGetUser(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	u, err := h.svc.GetUser(cctx, ctx.Param("id"))
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, "", gin.H{"user": u})
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/dairyops/dairyhub/internal/apperr"
	"github.com/dairyops/dairyhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondOK(ctx *gin.Context, status int, message string, data interface{}) {
	ctx.JSON(status, envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, envelope{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

// RespondErr renders any error returned by a service. The kind is resolved
// once; anything that is not an *apperr.Error is logged and becomes a
// generic 500.
func RespondErr(ctx *gin.Context, err error) {
	appErr := apperr.From(err)

	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindNotificationFailure {
		slog.Default().ErrorContext(ctx.Request.Context(), "request failed",
			"kind", appErr.Kind.Code(),
			"route", ctx.FullPath(),
			"request_id", requestIDFrom(ctx),
			"err", err,
		)
	}

	RespondError(ctx, appErr.Kind.Status(), appErr.Kind.Code(), appErr.PublicMessage(), appErr.Details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, apperr.KindNotFound.Code(), message, nil)
}

func RespondUnauthorized(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusUnauthorized, apperr.KindUnauthenticated.Code(), message, nil)
}

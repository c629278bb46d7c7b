package middlewares

import (
	"github.com/dairyops/dairyhub/internal/apperr"
	"github.com/gin-gonic/gin"
)

// abortWithError ends the chain with the standard error envelope.
func abortWithError(c *gin.Context, kind apperr.Kind, message string) {
	if message == "" {
		message = kind.DefaultMessage()
	}

	reqID, _ := c.Get(CtxRequestID)
	id, _ := reqID.(string)

	c.AbortWithStatusJSON(kind.Status(), gin.H{
		"success": false,
		"message": message,
		"error": gin.H{
			"code":      kind.Code(),
			"message":   message,
			"requestId": id,
		},
	})
}

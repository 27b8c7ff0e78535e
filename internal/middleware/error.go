package middleware

import (
	"errors"

	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last AppError attached to the context,
// wrapping foreign errors as internal.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError

		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.KindInternal, apperrors.ReasonNone, err.Error(), err)
		}

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Kind,
			"reason", appErr.Reason,
			"client_ip", c.ClientIP(),
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "request failed", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		c.JSON(appErr.HTTPStatus, appErr)
	}
}

package middleware

import (
	stderrors "errors"
	"net/http"

	"huddle/internal/core/domain"
	"huddle/pkg/circuitbreaker"
	"huddle/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders errors attached with c.Error. Device errors
// are mapped onto application errors by kind.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := ToAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.JSON(http.StatusInternalServerError, errors.NewInternalError("Internal server error").Body())
			return
		}

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
			)
		} else {
			logger.Infow("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(appErr.HTTPStatus, appErr.Body())
	}
}

// ToAppError returns the AppError in err's chain, or builds one for device
// and session errors. It returns nil for anything else.
func ToAppError(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrNoSession), stderrors.Is(err, domain.ErrSessionClosed):
		return errors.WrapError(err, errors.ErrCodeConflict, err.Error(), http.StatusConflict)
	case stderrors.Is(err, domain.ErrArtifactNotFound):
		return errors.WrapError(err, errors.ErrCodeNotFound, "recording not found", http.StatusNotFound)
	case stderrors.Is(err, circuitbreaker.ErrOpen):
		return errors.WrapError(err, errors.ErrCodeServiceUnavailable, "recording catalog unavailable", http.StatusServiceUnavailable)
	}

	var de *domain.DeviceError
	if !stderrors.As(err, &de) {
		return nil
	}

	var appErr *errors.AppError
	switch de.Kind {
	case domain.PermissionDenied:
		appErr = errors.WrapError(err, errors.ErrCodeForbidden, de.Message, http.StatusForbidden)
	case domain.DeviceNotFound:
		appErr = errors.WrapError(err, errors.ErrCodeNotFound, de.Message, http.StatusNotFound)
	case domain.DeviceInUse:
		appErr = errors.WrapError(err, errors.ErrCodeConflict, de.Message, http.StatusConflict)
	case domain.FormatUnsupported:
		appErr = errors.WrapError(err, errors.ErrCodeUnsupportedMedia, de.Message, http.StatusUnsupportedMediaType)
	default:
		appErr = errors.WrapError(err, errors.ErrCodeInternal, de.Message, http.StatusInternalServerError)
	}
	return appErr.WithContext("device_error", de.Kind.String())
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				abortWith(c, errors.NewInternalError("Internal server error"))
			}
		}()

		c.Next()
	}
}

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string         `json:"type"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound = apperror.NotFound("not_found", "not found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusTooManyRequests {
			if appErr, ok := apperror.As(lastErr.Err); ok {
				if ms, ok := appErr.Details["retry_after_ms"].(int64); ok && ms > 0 {
					c.Header("Retry-After", retryAfterSeconds(ms))
				}
			}
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindIntegrityViolation:
		return http.StatusUnprocessableEntity
	case apperror.KindConsentRequired:
		return http.StatusPreconditionFailed
	case apperror.KindAlreadyUsed, apperror.KindExpired:
		return http.StatusGone
	case apperror.KindSigningUnavailable:
		return http.StatusServiceUnavailable
	case apperror.KindInvalidKey, apperror.KindInvalidAlgorithm, apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindForbidden:
		return http.StatusForbidden
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func mapError(err error) (int, errorPayload) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: "not_found", Message: "not found"}
	}

	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind == apperror.KindUnknown {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	status := statusFor(appErr.Kind)
	payload := errorPayload{
		Type:    appErr.Kind.String(),
		Code:    appErr.Code,
		Message: appErr.Message,
	}
	// Forbidden details stay server side.
	if status < http.StatusInternalServerError && appErr.Kind != apperror.KindForbidden {
		payload.Details = appErr.Details
	}
	return status, payload
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if appErr, ok := apperror.As(err); ok && appErr.Kind != apperror.KindUnknown {
		return appErr.Kind.String(), appErr.Code
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not_found", "not_found"
	}
	return "internal_error", "internal_error"
}

func retryAfterSeconds(ms int64) string {
	secs := (ms + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

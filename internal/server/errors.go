package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mivvo/expertiz/internal/auth/token"
	"github.com/mivvo/expertiz/internal/authorization"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	"github.com/mivvo/expertiz/internal/providers/analyzer"
	reportdomain "github.com/mivvo/expertiz/internal/report/domain"
	userdomain "github.com/mivvo/expertiz/internal/user/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrRateLimited  = errors.New("rate_limited")
	ErrInternal     = errors.New("internal_error")
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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, userdomain.ErrInvalidCredentials),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken):
		return http.StatusUnauthorized, payloadFor(err, "unauthorized")

	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, payloadFor(err, "forbidden")

	case errors.Is(err, creditdomain.ErrInsufficientCredit):
		return http.StatusPaymentRequired, payloadFor(err, "not enough credits for this report type")

	case errors.Is(err, reportdomain.ErrMediaTooLarge):
		return http.StatusRequestEntityTooLarge, payloadFor(err, "media file exceeds the size limit")

	case errors.Is(err, reportdomain.ErrMediaRejected):
		return http.StatusUnsupportedMediaType, payloadFor(err, "media file type is not supported")

	case errors.Is(err, reportdomain.ErrReportNotEditable),
		errors.Is(err, reportdomain.ErrInvalidStateTransition),
		errors.Is(err, reportdomain.ErrAnalysisInProgress),
		errors.Is(err, userdomain.ErrEmailTaken):
		return http.StatusConflict, payloadFor(err, "conflict")

	case errors.Is(err, reportdomain.ErrInvalidReportType),
		errors.Is(err, reportdomain.ErrInvalidVehicle),
		errors.Is(err, reportdomain.ErrNoMediaAttached),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidUser),
		errors.Is(err, notificationdomain.ErrInvalidNotification),
		errors.Is(err, notificationdomain.ErrInvalidUser),
		errors.Is(err, userdomain.ErrWeakPassword):
		return http.StatusBadRequest, payloadFor(err, "invalid request")

	case errors.Is(err, reportdomain.ErrReportNotFound),
		errors.Is(err, creditdomain.ErrLedgerNotFound),
		errors.Is(err, notificationdomain.ErrNotificationNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound, payloadFor(err, "not found")

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, payloadFor(err, "too many requests")

	case errors.Is(err, analyzer.ErrTimeout):
		return http.StatusGatewayTimeout, payloadFor(err, "analysis timed out")

	case errors.Is(err, analyzer.ErrUnavailable):
		return http.StatusBadGateway, payloadFor(err, "analysis service unavailable")
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// payloadFor uses the sentinel's text as the machine-readable type; the
// domain errors are named as stable codes.
func payloadFor(err error, message string) errorPayload {
	return errorPayload{
		Type:    rootSentinel(err),
		Message: message,
	}
}

func rootSentinel(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	case status >= http.StatusBadRequest:
		return "client", payload.Type
	default:
		return "", payload.Type
	}
}

package server

import (
	"errors"
	"net/http"
	"strings"

	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
	coupondomain "github.com/fitglance/fitglance/internal/coupon/domain"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	deductiondomain "github.com/fitglance/fitglance/internal/deduction/domain"
	"github.com/fitglance/fitglance/internal/locks"
	purchasedomain "github.com/fitglance/fitglance/internal/purchase/domain"
	subscriptiondomain "github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/gin-gonic/gin"
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
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, deductiondomain.ErrCappedAmountExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "capped_amount_exceeded",
			Message: "usage cap reached for the current billing period",
		}
	case errors.Is(err, deductiondomain.ErrNoBillableSubscription):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "no_billable_subscription",
			Message: "no active subscription to bill overage against",
		}
	case errors.Is(err, coupondomain.ErrUsageLimitExceeded):
		return http.StatusConflict, errorPayload{
			Type:    "usage_limit_exceeded",
			Message: "coupon already redeemed by this shop",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, locks.ErrLockNotAcquired):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "another operation holds the ledger, retry shortly",
		}
	case errors.Is(err, coupondomain.ErrRedemptionFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "redemption_failed",
			Message: "coupon redemption could not be written",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, creditledgerdomain.ErrInvalidInstallation),
		errors.Is(err, creditledgerdomain.ErrInvalidAmount),
		errors.Is(err, deductiondomain.ErrInvalidInstallation),
		errors.Is(err, deductiondomain.ErrInvalidSource),
		errors.Is(err, billingcycledomain.ErrInvalidInstallation),
		errors.Is(err, billingcycledomain.ErrInvalidPeriodEnd),
		errors.Is(err, subscriptiondomain.ErrInvalidInstallation),
		errors.Is(err, subscriptiondomain.ErrInvalidPlan),
		errors.Is(err, coupondomain.ErrInvalidInstallation),
		errors.Is(err, coupondomain.ErrInvalidCode),
		errors.Is(err, coupondomain.ErrInactiveCode),
		errors.Is(err, coupondomain.ErrExpiredCode),
		errors.Is(err, purchasedomain.ErrInvalidInstallation),
		errors.Is(err, purchasedomain.ErrInvalidPack):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, purchasedomain.ErrUnknownCharge),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case "inactive_code", "expired_code":
		return "code"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "inactive_code":
		return "coupon is not active"
	case "expired_code":
		return "coupon has expired"
	default:
		return "invalid value"
	}
}

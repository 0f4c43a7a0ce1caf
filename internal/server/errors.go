package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/mediaforge/internal/billing/domain"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	submissiondomain "github.com/smallbiznis/mediaforge/internal/submission/domain"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"gorm.io/gorm"
)

// ValidationError describes one rejected request field.
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
	ErrUnauthorized       = errors.New("unauthorized")
	ErrOwnerRequired      = errors.New("owner_required")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// fieldErrors are domain sentinels answered with 400. The sentinel text is the
// error code; field and message describe it to the client.
var fieldErrors = []struct {
	err     error
	field   string
	message string
}{
	{ErrInvalidRequest, "request", "invalid request"},
	{submissiondomain.ErrInvalidRequest, "request", "invalid request"},
	{dispatchdomain.ErrInvalidProvider, "provider", "invalid value"},
	{dispatchdomain.ErrInvalidEntry, "entry", "invalid value"},
	{providerdomain.ErrMalformedPayload, "body", "malformed payload"},
	{providerdomain.ErrMissingTaskID, "task_id", "task id is required"},
	{generationdomain.ErrInvalidOutputCount, "output_count", "invalid value"},
	{generationdomain.ErrInvalidTaskID, "task_id", "invalid value"},
	{generationdomain.ErrInvalidOwner, "owner", "invalid value"},
	{generationdomain.ErrInvalidPageToken, "page_token", "invalid value"},
	{usagedomain.ErrInvalidSubscription, "subscription", "invalid value"},
	{usagedomain.ErrInvalidOwner, "owner", "invalid value"},
	{usagedomain.ErrInvalidCost, "cost", "invalid value"},
	{subjectdomain.ErrInvalidSubject, "subject", "invalid value"},
	{subjectdomain.ErrEmptyPrompt, "prompt", "invalid value"},
	{refunddomain.ErrInvalidRefundKey, "refund_key", "invalid value"},
	{billingdomain.ErrInvalidPayload, "body", "malformed payload"},
}

// statusRules are checked in order after validation errors.
var statusRules = []struct {
	match   func(error) bool
	status  int
	typ     string
	message string
}{
	{isAny(ErrUnauthorized, ErrOwnerRequired, billingdomain.ErrUnauthorized), http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{isAny(ErrConflict, usagedomain.ErrConcurrentUpdate), http.StatusConflict, "conflict", "conflict"},
	{isAny(
		ErrNotFound,
		providerdomain.ErrUnknownProvider,
		subjectdomain.ErrSubjectNotFound,
		usagedomain.ErrSubscriptionNotFound,
		generationdomain.ErrTaskNotFound,
		dispatchdomain.ErrEntryNotFound,
		gorm.ErrRecordNotFound,
	), http.StatusNotFound, "not_found", "not found"},
	{isAny(ErrRateLimited), http.StatusTooManyRequests, "rate_limited", submissiondomain.ReasonRateLimited},
	{isProviderError, http.StatusBadGateway, "provider_error", "generation provider rejected the request"},
	{isAny(ErrServiceUnavailable), http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
}

var internalError = errorPayload{Type: "internal_error", Message: "internal server error"}

// ErrorHandlingMiddleware renders the last handler error as the JSON error envelope.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
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
	return newValidationError("request", ErrInvalidRequest.Error(), "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalError
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, validationPayload(vErr.Errors...)
	}
	for _, fe := range fieldErrors {
		if errors.Is(err, fe.err) {
			return http.StatusBadRequest, validationPayload(ValidationError{
				Field:   fe.field,
				Code:    fe.err.Error(),
				Message: fe.message,
			})
		}
	}

	for _, rule := range statusRules {
		if rule.match(err) {
			return rule.status, errorPayload{Type: rule.typ, Message: rule.message}
		}
	}
	return http.StatusInternalServerError, internalError
}

func validationPayload(errs ...ValidationError) errorPayload {
	return errorPayload{Type: "validation_error", Message: "validation error", Errors: errs}
}

// classifyErrorForLog feeds the access log with the same classification clients see.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func isAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

func isProviderError(err error) bool {
	var providerErr *providerdomain.ProviderError
	if errors.As(err, &providerErr) {
		return true
	}
	return errors.Is(err, providerdomain.ErrSubmissionRejected) ||
		errors.Is(err, providerdomain.ErrSubmissionTransport)
}

// ownerScoped hides resources owned by someone else behind a plain not-found.
func ownerScoped(expected, actual string) error {
	if strings.TrimSpace(expected) == "" || expected != actual {
		return ErrNotFound
	}
	return nil
}

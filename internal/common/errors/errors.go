// Package errors provides the billing error taxonomy shared by the HTTP API and the
// Zeebe job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Quota
	ErrCodeLimitReached ErrorCode = "LIMIT_REACHED"

	// Webhook ingest
	ErrCodeDuplicateEvent   ErrorCode = "DUPLICATE_EVENT"
	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	ErrCodePayloadInvalid   ErrorCode = "PAYLOAD_INVALID"
	ErrCodeUserNotResolved  ErrorCode = "USER_NOT_RESOLVED"

	// Provider / infrastructure
	ErrCodeProviderOutage     ErrorCode = "PROVIDER_OUTAGE"
	ErrCodeConfiguration      ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeStoreFailed        ErrorCode = "STORE_FAILED"
	ErrCodeAnalysisFailed     ErrorCode = "ANALYSIS_FAILED"
	ErrCodeNotificationFailed ErrorCode = "NOTIFICATION_FAILED"

	// Accounts
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"
	ErrCodeEmailTaken   ErrorCode = "EMAIL_TAKEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

// Is matches any StandardError carrying the same code, so the sentinels below
// work with errors.Is regardless of details or metadata.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrLimitReached     = &StandardError{Code: ErrCodeLimitReached}
	ErrDuplicateEvent   = &StandardError{Code: ErrCodeDuplicateEvent}
	ErrSignatureInvalid = &StandardError{Code: ErrCodeSignatureInvalid}
	ErrPayloadInvalid   = &StandardError{Code: ErrCodePayloadInvalid}
	ErrUserNotResolved  = &StandardError{Code: ErrCodeUserNotResolved}
	ErrProviderOutage   = &StandardError{Code: ErrCodeProviderOutage}
	ErrConfiguration    = &StandardError{Code: ErrCodeConfiguration}
	ErrStoreFailed      = &StandardError{Code: ErrCodeStoreFailed}
	ErrAnalysisFailed   = &StandardError{Code: ErrCodeAnalysisFailed}
	ErrUserNotFound     = &StandardError{Code: ErrCodeUserNotFound}
	ErrEmailTaken       = &StandardError{Code: ErrCodeEmailTaken}
	ErrUnauthorized     = &StandardError{Code: ErrCodeUnauthorized}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewLimitReachedError is returned when a reservation would exceed the plan quota.
func NewLimitReachedError(userID string, used, limit int) *StandardError {
	e := newError(ErrCodeLimitReached,
		"Analysis limit reached for your plan. Upgrade to run more analyses.",
		fmt.Sprintf("userId: %s", userID), false)
	e.Metadata = map[string]interface{}{
		"analysesUsed":  used,
		"analysesLimit": limit,
	}
	return e
}

// NewDuplicateEventError marks a webhook event that was already processed.
func NewDuplicateEventError(eventID string) *StandardError {
	return newError(ErrCodeDuplicateEvent, "Event already processed", fmt.Sprintf("eventId: %s", eventID), false)
}

func NewSignatureInvalidError(err error) *StandardError {
	return newError(ErrCodeSignatureInvalid, "Webhook signature verification failed", err.Error(), false)
}

func NewPayloadInvalidError(details string) *StandardError {
	return newError(ErrCodePayloadInvalid, "Invalid payload", details, false)
}

// NewUserNotResolvedError is retryable: the provider redelivers and a later event
// may have linked the customer by then.
func NewUserNotResolvedError(eventID, eventType string) *StandardError {
	return newError(ErrCodeUserNotResolved, "No user matches this provider event",
		fmt.Sprintf("eventId: %s, type: %s", eventID, eventType), true)
}

func NewProviderOutageError(provider string, err error) *StandardError {
	return newError(ErrCodeProviderOutage, fmt.Sprintf("Payment provider '%s' unavailable", provider), err.Error(), true)
}

func NewConfigurationError(details string) *StandardError {
	return newError(ErrCodeConfiguration, "Service is not configured for this action", details, false)
}

func NewStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeStoreFailed, "Storage operation failed", fmt.Sprintf("op: %s, error: %s", op, err.Error()), true)
}

func NewAnalysisFailedError(err error) *StandardError {
	return newError(ErrCodeAnalysisFailed, "Property analysis service error", err.Error(), true)
}

func NewNotificationFailedError(err error) *StandardError {
	return newError(ErrCodeNotificationFailed, "Billing notification delivery failed", err.Error(), true)
}

func NewUserNotFoundError(userID string) *StandardError {
	return newError(ErrCodeUserNotFound, "User not found", fmt.Sprintf("userId: %s", userID), false)
}

func NewEmailTakenError(email string) *StandardError {
	return newError(ErrCodeEmailTaken, "An account with this email already exists", fmt.Sprintf("email: %s", email), false)
}

func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Unauthorized", details, false)
}

// ==========================
// 4. Conversion
// ==========================

// AsStandard extracts a StandardError from err, wrapping unknown errors as
// non-retryable INTERNAL_ERROR.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return newError("INTERNAL_ERROR", "Unexpected error", err.Error(), false)
}

// HTTPStatus maps an error code to the status returned by the API.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeLimitReached:
		return http.StatusPaymentRequired
	case ErrCodeDuplicateEvent:
		return http.StatusOK
	case ErrCodeSignatureInvalid, ErrCodePayloadInvalid:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeUserNotFound:
		return http.StatusNotFound
	case ErrCodeEmailTaken:
		return http.StatusConflict
	case ErrCodeUserNotResolved, ErrCodeProviderOutage:
		return http.StatusServiceUnavailable
	case ErrCodeAnalysisFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetRetryCount returns the recommended Zeebe job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreFailed, ErrCodeNotificationFailed, ErrCodeAnalysisFailed:
		return 3
	case ErrCodeProviderOutage, ErrCodeUserNotResolved:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeLimitReached:
		return "QUOTA"
	case strings.Contains(codeStr, "EVENT") || strings.Contains(codeStr, "SIGNATURE") || strings.Contains(codeStr, "RESOLVED"):
		return "WEBHOOK"
	case strings.Contains(codeStr, "PROVIDER"):
		return "PROVIDER"
	case strings.Contains(codeStr, "STORE"):
		return "DATABASE"
	case strings.Contains(codeStr, "ANALYSIS"):
		return "AI"
	case strings.Contains(codeStr, "USER") || strings.Contains(codeStr, "EMAIL") || code == ErrCodeUnauthorized:
		return "ACCOUNT"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "CONFIGURATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse error classification. It decides the HTTP status and
// whether a retry with identical parameters can ever succeed.
type Kind string

const (
	// KindPolicyViolation: tier/capital/drawdown/risk/duration/stake
	// mismatches. Retrying with the same parameters always fails.
	KindPolicyViolation Kind = "POLICY_VIOLATION"
	// KindSafetyHalt: a global safety gate (circuit breaker, utilization
	// or exposure cap) blocked the call. Callers may retry later.
	KindSafetyHalt Kind = "SAFETY_HALT"
	// KindStateConflict: the record is not in the lifecycle state the
	// operation requires.
	KindStateConflict Kind = "STATE_CONFLICT"
	// KindAccessViolation: caller lacks the required role.
	KindAccessViolation Kind = "ACCESS_VIOLATION"

	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindNotFound       Kind = "NOT_FOUND"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// Reason is the machine-readable failure code within a Kind.
type Reason string

const (
	ReasonExecutorBanned           Reason = "EXECUTOR_BANNED"
	ReasonCapitalExceedsTierLimit  Reason = "CAPITAL_EXCEEDS_TIER_LIMIT"
	ReasonDrawdownExceedsTierLimit Reason = "DRAWDOWN_EXCEEDS_TIER_LIMIT"
	ReasonRiskLevelExceedsTier     Reason = "RISK_LEVEL_EXCEEDS_TIER_LIMIT"
	ReasonDurationTooShort         Reason = "DURATION_TOO_SHORT"
	ReasonDurationTooLong          Reason = "DURATION_TOO_LONG"
	ReasonInsufficientStake        Reason = "INSUFFICIENT_STAKE"
	ReasonAssetNotAllowed          Reason = "ASSET_NOT_ALLOWED"
	ReasonAdapterNotAllowed        Reason = "ADAPTER_NOT_ALLOWED"
	ReasonPositionTooLarge         Reason = "POSITION_TOO_LARGE"
	ReasonCapitalLimitExceeded     Reason = "CAPITAL_LIMIT_EXCEEDED"

	ReasonCircuitBreakerActive Reason = "CIRCUIT_BREAKER_ACTIVE"
	ReasonUtilizationExceeded  Reason = "UTILIZATION_EXCEEDED"
	ReasonExposureExceeded     Reason = "EXPOSURE_EXCEEDED"
	ReasonVaultWouldDrain      Reason = "VAULT_WOULD_DRAIN"

	ReasonERTNotActive  Reason = "ERT_NOT_ACTIVE"
	ReasonNotYetExpired Reason = "NOT_YET_EXPIRED"

	ReasonNone Reason = ""
)

// AppError is the standard error struct for the engine.
type AppError struct {
	Kind       Kind   `json:"code"`
	Reason     Reason `json:"reason,omitempty"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(kind Kind, reason Reason, msg string, cause error) *AppError {
	return &AppError{
		Kind:       kind,
		Reason:     reason,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapKindToStatus(kind),
	}
}

func PolicyViolation(reason Reason, format string, args ...any) *AppError {
	return New(KindPolicyViolation, reason, fmt.Sprintf(format, args...), nil)
}

func SafetyHalt(reason Reason, format string, args ...any) *AppError {
	return New(KindSafetyHalt, reason, fmt.Sprintf(format, args...), nil)
}

func StateConflict(reason Reason, format string, args ...any) *AppError {
	return New(KindStateConflict, reason, fmt.Sprintf(format, args...), nil)
}

func AccessViolation(msg string) *AppError {
	return New(KindAccessViolation, ReasonNone, msg, nil)
}

func NotFound(format string, args ...any) *AppError {
	return New(KindNotFound, ReasonNone, fmt.Sprintf(format, args...), nil)
}

func InvalidRequest(format string, args ...any) *AppError {
	return New(KindInvalidRequest, ReasonNone, fmt.Sprintf(format, args...), nil)
}

// Wrap converts an arbitrary error into an AppError, passing AppErrors
// through untouched.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(KindInternal, ReasonNone, err.Error(), err)
}

// KindOf reports the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ReasonOf reports the Reason of err, or ReasonNone.
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ReasonNone
}

func mapKindToStatus(k Kind) int {
	switch k {
	case KindPolicyViolation, KindInvalidRequest:
		return http.StatusBadRequest
	case KindSafetyHalt:
		return http.StatusServiceUnavailable
	case KindStateConflict:
		return http.StatusConflict
	case KindAccessViolation:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

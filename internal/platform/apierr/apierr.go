package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind groups error codes into the classes callers branch on.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindExpired
	KindRevoked
	KindForbidden
	KindConflict
	KindValidation
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeInvalidToken        Code = "invalid_token"
	CodeExpiredSession      Code = "expired_session"
	CodeRevokedSession      Code = "revoked_session"
	CodeExpiredToken        Code = "expired_token"
	CodeRevokedToken        Code = "revoked_token"
	CodeAlreadyBound        Code = "already_bound"
	CodeForbiddenRole       Code = "forbidden_role"
	CodePatientMismatch     Code = "patient_mismatch"
	CodeMaxLifetimeExceeded Code = "max_lifetime_exceeded"
	CodeCardInactive        Code = "card_inactive"
	CodeDuplicateCard       Code = "duplicate_card"
	CodeNoActiveSession     Code = "no_active_session"
	CodeUnknownRole         Code = "unknown_role"
	CodeVisitCompleted      Code = "visit_completed"
	CodeNotFound            Code = "not_found"
	CodeValidation          Code = "validation_error"
	CodeUnauthenticated     Code = "unauthenticated"
	CodeRateLimited         Code = "rate_limited"
	CodeInternal            Code = "internal_error"
)

// Error is the error type returned by the access core. Sentinels are
// compared by identity with errors.Is.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, CodeValidation, fmt.Sprintf(format, args...))
}

// NotFound returns a not-found error for the named entity.
func NotFound(entity string) *Error {
	return New(KindNotFound, CodeNotFound, entity+" not found")
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HasKind reports whether err carries an *Error of the given kind.
func HasKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired, KindRevoked:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload.
type Body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// HTTP converts err into an *echo.HTTPError carrying a Body. Errors outside
// the taxonomy become a 500 without leaking their text.
func HTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	e, ok := As(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{Code: CodeInternal, Message: "internal server error"}).SetInternal(err)
	}
	return echo.NewHTTPError(Status(e.Kind), Body{Code: e.Code, Message: e.Message})
}

// ErrorHandler renders every error as a Body so clients never have to parse
// free text.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he := HTTP(err)
	body, ok := he.Message.(Body)
	if !ok {
		body = Body{Code: codeForStatus(he.Code), Message: fmt.Sprint(he.Message)}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, body)
}

func codeForStatus(status int) Code {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusForbidden:
		return CodeForbiddenRole
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusBadRequest:
		return CodeValidation
	default:
		return CodeInternal
	}
}

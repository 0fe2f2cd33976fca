package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// Kind classifies an error for callers that need to decide how to react to it.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindAllocation          Kind = "allocation"
	KindInternal            Kind = "internal"

	// KindRequest covers rejections raised before any domain logic runs,
	// such as authentication or rate limiting.
	KindRequest Kind = "request"
)

// ReasonRetryLater is reported for infrastructure faults instead of the underlying reason.
const ReasonRetryLater = "retry_later"

// Error is a classified error with a stable machine-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

// New builds a classified error.
func New(kind Kind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg}
}

// Wrap attaches a cause to a classified error while keeping the sentinel matchable.
func Wrap(sentinel *Error, err error) error {
	if err == nil {
		return sentinel
	}
	return &wrapped{sentinel: sentinel, err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

type wrapped struct {
	sentinel *Error
	err      error
}

func (w *wrapped) Error() string   { return w.sentinel.Msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() []error { return []error{w.sentinel, w.err} }

// Validation returns a validation error with the given reason.
func Validation(reason, msg string) *Error {
	return New(KindValidation, reason, msg)
}

// As returns the first classified error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInternal when it carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code returned to API clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindAllocation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error envelope.
type Body struct {
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ToBody renders err for API clients. Infrastructure faults are reported
// generically so internal details never leak.
func ToBody(err error) Body {
	e, ok := As(err)
	if !ok {
		return Body{Kind: KindInternal, Reason: "internal", Message: "internal error"}
	}
	if e.Kind == KindAllocation {
		return Body{Kind: e.Kind, Reason: ReasonRetryLater, Message: "temporarily unavailable, retry later"}
	}
	return Body{Kind: e.Kind, Reason: e.Reason, Message: e.Msg}
}

// StatusBody renders a bare HTTP status rejection raised by the transport layer.
func StatusBody(code int, msg string) Body {
	kind := KindRequest
	switch {
	case code == http.StatusBadRequest:
		kind = KindValidation
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code >= http.StatusInternalServerError:
		kind, msg = KindInternal, "internal error"
	}
	reason := strings.ToLower(strings.ReplaceAll(http.StatusText(code), " ", "_"))
	if reason == "" {
		reason = "http_error"
	}
	return Body{Kind: kind, Reason: reason, Message: msg}
}

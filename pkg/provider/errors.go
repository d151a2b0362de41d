package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v82"
)

var (
	// ErrExternalProvider matches every error coming from the provider.
	ErrExternalProvider = errors.New("billing provider error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrNotConfigured    = errors.New("billing provider not configured")
	ErrCircuitOpen      = errors.New("billing provider circuit is open")
	ErrNoPrice          = errors.New("plan has no provider price")
	ErrUnknownInterval  = errors.New("unsupported price interval")
)

// Kind groups provider failures by what the caller can do about them.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindNetwork        Kind = "network"
	KindServer         Kind = "server"
	KindRateLimit      Kind = "rate_limit"
	KindConflict       Kind = "conflict"
	KindAuth           Kind = "auth"
	KindCard           Kind = "card"
	KindNotFound       Kind = "not_found"
	KindInvalidRequest Kind = "invalid_request"
	KindCanceled       Kind = "canceled"
	KindCircuitOpen    Kind = "circuit_open"
	KindUnknown        Kind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Op         string
	Kind       Kind
	Retryable  bool
	StatusCode int
	Code       string
	RequestID  string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("billing provider %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrExternalProvider }

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}

// classify wraps err into an *Error. Errors that are already classified pass
// through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	e := &Error{Op: op, Kind: KindUnknown, Err: err}
	var (
		se   *stripe.Error
		nerr net.Error
	)
	switch {
	case errors.Is(err, context.Canceled):
		e.Kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind, e.Retryable = KindTimeout, true
	case errors.As(err, &se):
		e.StatusCode = se.HTTPStatusCode
		e.Code = string(se.Code)
		e.RequestID = se.RequestID
		e.Kind, e.Retryable = classifyStatus(se.HTTPStatusCode)
		switch {
		case se.Code == "lock_timeout":
			e.Kind, e.Retryable = KindConflict, true
		case se.Type == "card_error":
			e.Kind, e.Retryable = KindCard, false
		}
	case errors.As(err, &nerr):
		e.Kind, e.Retryable = KindNetwork, true
		if nerr.Timeout() {
			e.Kind = KindTimeout
		}
	}
	return e
}

// classifyStatus follows HTTP semantics: server errors and throttling are
// temporary, other client errors are not.
func classifyStatus(status int) (Kind, bool) {
	switch {
	case status == 0:
		return KindNetwork, true
	case status == http.StatusRequestTimeout:
		return KindTimeout, true
	case status == http.StatusTooManyRequests, status == http.StatusTooEarly:
		return KindRateLimit, true
	case status == http.StatusConflict:
		return KindConflict, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth, false
	case status == http.StatusPaymentRequired:
		return KindCard, false
	case status == http.StatusNotFound:
		return KindNotFound, false
	case status >= 500:
		return KindServer, true
	default:
		return KindInvalidRequest, false
	}
}

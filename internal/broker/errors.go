package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Error classifies a venue failure. Transient errors (timeouts, rate limits,
// 5xx) may be retried; permanent errors (rejections, validation failures)
// must not be.
type Error struct {
	Op        string
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("broker: %s: %s", e.Op, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps a retryable venue failure.
func NewTransient(op, message string, err error) *Error {
	return &Error{Op: op, Message: message, Transient: true, Err: err}
}

// NewPermanent wraps a non-retryable venue failure.
func NewPermanent(op, code, message string, err error) *Error {
	return &Error{Op: op, Code: code, Message: message, Err: err}
}

// IsTransient reports whether err is a retryable venue failure.
func IsTransient(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Transient
}

// ErrOrderNotFound is returned by CancelOrder and status lookups when the
// venue does not know the order ID.
var ErrOrderNotFound = errors.New("broker: order not found")

// IsBenignCancel reports whether a cancel failure means the order already
// reached a terminal state on its own (filled, expired, already cancelled).
// Such failures are success-equivalent: the caller's goal — the order no
// longer being live — is met either way.
func IsBenignCancel(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrOrderNotFound) {
		return true
	}
	var be *Error
	if errors.As(err, &be) {
		msg := strings.ToLower(be.Message)
		for _, hint := range []string{"already filled", "already canceled", "already cancelled", "is not cancelable", "not cancelable", "terminal state"} {
			if strings.Contains(msg, hint) {
				return true
			}
		}
	}
	return false
}

package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an adapter failure for retry purposes.
type Kind string

const (
	KindTransient Kind = "transient" // timeout, rate limit, remote 5xx
	KindPermanent Kind = "permanent" // auth rejected, validation rejected
)

// Error is an adapter failure with a retry classification.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err is classified permanent. Unclassified
// errors, deadlines and cancellations count as transient.
func IsPermanent(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindPermanent
	}
	return false
}

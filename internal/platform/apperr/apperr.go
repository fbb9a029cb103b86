package apperr

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOverBudget marks a denied budget check.
	ErrOverBudget = errors.New("agent over budget")
	// ErrTimeout marks an operation that lost its race against a deadline.
	ErrTimeout = errors.New("operation timed out")
)

// ErrorType buckets failures for retry/backlog/DLQ routing.
type ErrorType string

const (
	// TypeTransient covers infrastructure failures worth retrying with
	// backoff (timeouts, refused connections, unavailable dependencies).
	TypeTransient ErrorType = "transient"
	// TypePermanent covers data failures that will never succeed on retry
	// (malformed input, missing referenced entities).
	TypePermanent ErrorType = "permanent"
	// TypeBudget covers policy denials from the cost governor.
	TypeBudget ErrorType = "budget"
	// TypeValidation covers synchronously rejected malformed records.
	TypeValidation ErrorType = "validation"
)

// Classify maps an error onto the retry taxonomy. Unknown errors are treated
// as transient so they stay in the retry loop rather than being dropped.
func Classify(err error) ErrorType {
	if err == nil {
		return TypeTransient
	}
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return TypeValidation
	case errors.Is(err, ErrOverBudget):
		return TypeBudget
	case errors.Is(err, ErrNotFound):
		return TypePermanent
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return TypeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TypeTransient
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"malformed", "invalid", "unparseable", "constraint", "violates"} {
		if strings.Contains(msg, frag) {
			return TypePermanent
		}
	}
	return TypeTransient
}

// Retryable reports whether the retry scheduler should keep a signal in the
// backoff loop. Permanent and validation failures short-circuit to the DLQ.
func Retryable(t ErrorType) bool {
	return t == TypeTransient || t == TypeBudget
}

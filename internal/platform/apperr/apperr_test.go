package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifySentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{fmt.Errorf("stage extract: %w", ErrInvalidArgument), TypeValidation},
		{fmt.Errorf("check: %w", ErrOverBudget), TypeBudget},
		{fmt.Errorf("lookup: %w", ErrNotFound), TypePermanent},
		{fmt.Errorf("graph call: %w", ErrTimeout), TypeTransient},
		{context.DeadlineExceeded, TypeTransient},
		{context.Canceled, TypeTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v): want=%q got=%q", tc.err, tc.want, got)
		}
	}
}

func TestClassifyMessageFragments(t *testing.T) {
	permanent := []error{
		errors.New("malformed payload"),
		errors.New("unparseable response body"),
		errors.New(`insert violates foreign key constraint "fk_signals"`),
	}
	for _, err := range permanent {
		if got := Classify(err); got != TypePermanent {
			t.Fatalf("Classify(%v): want=permanent got=%q", err, got)
		}
	}
}

func TestClassifyUnknownDefaultsTransient(t *testing.T) {
	if got := Classify(errors.New("something unexpected")); got != TypeTransient {
		t.Fatalf("unknown errors stay retryable: got=%q", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(TypeTransient) || !Retryable(TypeBudget) {
		t.Fatalf("transient and budget failures must stay in the retry loop")
	}
	if Retryable(TypePermanent) || Retryable(TypeValidation) {
		t.Fatalf("permanent and validation failures must not retry")
	}
}

package pipeline

import (
	"testing"
	"time"
)

func TestBaseRetryDelayDoubles(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{4, 40 * time.Minute},
		{5, 80 * time.Minute},
	}
	for _, tc := range cases {
		if got := BaseRetryDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: want=%v got=%v", tc.attempt, tc.want, got)
		}
	}
}

func TestBaseRetryDelayCapped(t *testing.T) {
	for _, attempt := range []int{10, 20, 63, 64, 1000} {
		if got := BaseRetryDelay(attempt); got != retryMaxDelay {
			t.Fatalf("attempt %d: want cap %v got=%v", attempt, retryMaxDelay, got)
		}
	}
}

func TestBaseRetryDelayNonPositiveAttempt(t *testing.T) {
	for _, attempt := range []int{0, -1} {
		if got := BaseRetryDelay(attempt); got != retryBaseDelay {
			t.Fatalf("attempt %d: want base %v got=%v", attempt, retryBaseDelay, got)
		}
	}
}

func TestRetryDelayJitterStaysInBand(t *testing.T) {
	base := BaseRetryDelay(3)
	lo := time.Duration(float64(base) * (1 - retryJitterFrac))
	hi := time.Duration(float64(base) * (1 + retryJitterFrac))
	for i := 0; i < 200; i++ {
		got := RetryDelay(3)
		if got < lo || got > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", got, lo, hi)
		}
	}
}

func TestRetryDelayAlwaysPositive(t *testing.T) {
	for attempt := -1; attempt < 70; attempt++ {
		if got := RetryDelay(attempt); got <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, got)
		}
	}
}

package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type billingKey struct{}

// Billing carries cost attribution for AI provider calls made on behalf of a
// pipeline run. The orchestrator sets it; provider clients read it when
// recording spend.
type Billing struct {
	CorrelationID string
	SignalID      *uuid.UUID
	AgentID       *uuid.UUID
}

func WithBilling(ctx context.Context, b Billing) context.Context {
	return context.WithValue(Default(ctx), billingKey{}, b)
}

func GetBilling(ctx context.Context) (Billing, bool) {
	if ctx == nil {
		return Billing{}, false
	}
	b, ok := ctx.Value(billingKey{}).(Billing)
	return b, ok
}

package saga

import (
	"context"

	"github.com/xraph/floodgate/id"
)

type ctxKey struct{}

// ContextWithID tags ctx with the executing saga's ID so tool calls made
// by its steps can link their write-ahead entries back to the saga.
func ContextWithID(ctx context.Context, sagaID id.SagaID) context.Context {
	return context.WithValue(ctx, ctxKey{}, sagaID)
}

// IDFromContext returns the saga ID carried by ctx, if any.
func IDFromContext(ctx context.Context) (id.SagaID, bool) {
	sagaID, ok := ctx.Value(ctxKey{}).(id.SagaID)
	return sagaID, ok
}

package telemetry

import (
	"context"

	"github.com/google/uuid"
)

// Key identifies an execution context: one logical caller whose requests run
// sequentially. Use NewKey per goroutine (or per task) that issues requests,
// and call Recorder.Forget with it when that caller is done.
//
// Requests whose context carries no Key do not take part in telemetry.
type Key string

type keyCtx struct{}

// NewKey returns a fresh random Key.
func NewKey() Key {
	return Key(uuid.NewString())
}

// WithKey returns a copy of ctx that scopes telemetry to k.
func WithKey(ctx context.Context, k Key) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, keyCtx{}, k)
}

// KeyFrom returns the Key carried by ctx. ok is false when ctx has none.
func KeyFrom(ctx context.Context) (k Key, ok bool) {
	if ctx == nil {
		return "", false
	}
	k, ok = ctx.Value(keyCtx{}).(Key)
	return k, ok && k != ""
}

// File: internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext creates a context derived from the master context that is
// canceled when either the master or the operational context is canceled. The
// master context carries the CDP connection values, so it must be the parent;
// the operational context only contributes its deadline/cancellation.
func CombineContext(master, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(master)

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext inherits values (CDP target information) from its parent
// but ignores the parent's deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that carries ctx's values but outlives its
// cancellation. Used for best-effort cleanup of surfaces whose operational
// context has already been torn down.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

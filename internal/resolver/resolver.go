// Package resolver defines the intent-resolution capability: given the
// dialogue so far and new user text, produce a reply and the operations to
// run. The engine behind it is a black box to the rest of the system.
package resolver

import (
	"context"

	"taskchat/internal/dialogue"
)

// Call is one requested operation invocation.
type Call struct {
	Name string
	Args map[string]any
}

// Intent is the resolver's full answer for one exchange.
type Intent struct {
	Reply string
	Calls []Call
}

// Resolver maps dialogue history plus new user text to an Intent. A
// resolver must respect ctx cancellation; callers bound every Resolve with
// a timeout. Any error (including timeout) means the whole Intent is
// unusable and the caller falls back to a fixed reply.
type Resolver interface {
	Resolve(ctx context.Context, history []dialogue.Message, text string) (Intent, error)
}

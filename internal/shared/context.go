package shared

import (
	"context"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

// Actor is the authorization context passed into every engine operation.
type Actor struct {
	ID    string
	Email string
	Role  authority.Role
}

// SystemActor identifies engine-initiated mutations.
var SystemActor = Actor{ID: "system", Email: "system", Role: authority.RoleSuperAdmin}

// IsSystem reports whether the actor is the engine itself.
func (a Actor) IsSystem() bool {
	return a.ID == SystemActor.ID
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

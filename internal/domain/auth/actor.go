package auth

import "context"

// Role is the caller's role as asserted by the identity provider.
type Role string

// RoleCustomer is the plain shopper role. Every other role is staff.
const RoleCustomer Role = "customer"

// Actor is the authenticated caller of a ledger operation.
type Actor struct {
	ID   string
	Role Role
}

// IsStaff reports whether the actor has elevated read and authorization scope.
func (a Actor) IsStaff() bool {
	return a.Role != "" && a.Role != RoleCustomer
}

// CanAccess reports whether the actor owns the resource or is staff.
func (a Actor) CanAccess(ownerID string) bool {
	return a.IsStaff() || (a.ID != "" && a.ID == ownerID)
}

type actorKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the actor stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

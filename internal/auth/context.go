package auth

import (
	"context"

	"github.com/dukerupert/choreboard/internal/apperr"
)

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

type contextKey struct{}

// AuthContext is the acting identity for a request. ActingFor is set when a
// parent has been delegated to act on behalf of that child.
type AuthContext struct {
	ActorID   string
	FamilyID  string
	Role      Role
	ActingFor string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func FamilyID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.FamilyID
}

func ActorID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.ActorID
}

func IsParent(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == RoleParent
}

// RequireParent returns the caller's identity if it is a parent.
func RequireParent(ctx context.Context) (AuthContext, error) {
	ac, ok := FromContext(ctx)
	if !ok {
		return AuthContext{}, apperr.Unauthorized("no acting identity")
	}
	if ac.Role != RoleParent {
		return AuthContext{}, apperr.Unauthorized("parents only")
	}
	return ac, nil
}

// RequireChild returns the caller's identity if it may act as childID: the
// child itself, or a parent delegated to that child.
func RequireChild(ctx context.Context, childID string) (AuthContext, error) {
	ac, ok := FromContext(ctx)
	if !ok {
		return AuthContext{}, apperr.Unauthorized("no acting identity")
	}
	switch ac.Role {
	case RoleChild:
		if ac.ActorID == childID {
			return ac, nil
		}
	case RoleParent:
		if ac.ActingFor != "" && ac.ActingFor == childID {
			return ac, nil
		}
	}
	return AuthContext{}, apperr.Unauthorized("cannot act as child %q", childID)
}

// RequireMember returns the caller's identity for any authenticated family
// member.
func RequireMember(ctx context.Context) (AuthContext, error) {
	ac, ok := FromContext(ctx)
	if !ok || ac.FamilyID == "" {
		return AuthContext{}, apperr.Unauthorized("no acting identity")
	}
	return ac, nil
}

package middleware

import (
	"context"

	"github.com/angelmondragon/campusmart-backend/internal/access"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// PrincipalFromContext returns the authenticated caller seeded by Auth.
func PrincipalFromContext(ctx context.Context) (access.Principal, bool) {
	if ctx == nil {
		return access.Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(access.Principal)
	return p, ok
}

// RequirePrincipal returns the caller or an UNAUTHORIZED error for handlers mounted behind Auth.
func RequirePrincipal(ctx context.Context) (access.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return access.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

// UserIDFromContext returns the caller's user id as a string, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ""
	}
	return p.UserID.String()
}

func RoleFromContext(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ""
	}
	return string(p.Role)
}

func ShopIDFromContext(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.ShopID == nil {
		return ""
	}
	return p.ShopID.String()
}

// WithPrincipal injects the principal into the context.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}

package auth

import "context"

type userContextKey struct{}

// ContextWithUser attaches a private copy of the resolved snapshot to ctx.
func ContextWithUser(ctx context.Context, uc UserContext) context.Context {
	c := uc.Clone()
	return context.WithValue(ctx, userContextKey{}, &c)
}

// UserFromContext returns a deep copy of the attached snapshot.
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(userContextKey{}).(*UserContext)
	if !ok || v == nil {
		return nil, false
	}
	c := v.Clone()
	return &c, true
}

// UserIDFromContext extracts the authenticated user id.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	uc, ok := UserFromContext(ctx)
	if !ok {
		return 0, false
	}
	return uc.UserID, true
}

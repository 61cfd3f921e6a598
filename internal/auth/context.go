package auth

import "context"

// AuthInfo identifies the API key that authenticated a request.
type AuthInfo struct {
	KeyID string
	Name  string
}

type contextKey string

const authInfoKey contextKey = "authInfo"

// WithAuthInfo returns a context carrying info.
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

// InfoFromContext returns the AuthInfo stored on ctx, if any.
func InfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok
}

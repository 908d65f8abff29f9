package identity

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the verified caller to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the verified caller from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}

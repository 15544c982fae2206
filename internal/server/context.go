package server

import "context"

type contextKey int

const apiKeyIDContextKey contextKey = iota

func withAPIKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDContextKey, keyID)
}

func apiKeyIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(apiKeyIDContextKey).(string)
	return v
}

package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ownerIDKey   contextKey = "owner_id"
	apiKeyKey    contextKey = "api_key"
	keyPrefixKey contextKey = "key_prefix"
)

func SetOwnerID(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerIDKey, owner)
}

// GetOwnerID returns the dashboard user set by the session middleware.
func GetOwnerID(r *http.Request) (string, bool) {
	owner, ok := r.Context().Value(ownerIDKey).(string)
	return owner, ok && owner != ""
}

// SetAPIKey stores the presented game key and its public prefix.
func SetAPIKey(ctx context.Context, key, prefix string) context.Context {
	ctx = context.WithValue(ctx, apiKeyKey, key)
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

// GetAPIKey returns the raw key presented by a game client. It is never
// logged.
func GetAPIKey(r *http.Request) (string, bool) {
	key, ok := r.Context().Value(apiKeyKey).(string)
	return key, ok
}

func GetKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

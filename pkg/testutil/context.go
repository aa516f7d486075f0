package testutil

import (
	"net/http"

	"cis/pkg/requestcontext"
)

// WithClient adds an authenticated client and its scopes to the request
// context, as the auth middleware would.
func WithClient(req *http.Request, clientID string, scopes ...string) *http.Request {
	ctx := requestcontext.WithClientID(req.Context(), clientID)
	ctx = requestcontext.WithScopes(ctx, scopes)
	return req.WithContext(ctx)
}

// WithBearer sets the Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// Package server guards REST routes with bearer-token authentication.
package server

import (
	"context"
	"net/http"
	"strings"

	"echat/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// requireAuth verifies the Authorization header and stores the identity in
// the request context. Missing or invalid tokens get a 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			respondError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		identity, err := s.tokens.Verify(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the authenticated identity stored by requireAuth.
func identityFrom(r *http.Request) *auth.Identity {
	identity, _ := r.Context().Value(identityKey).(*auth.Identity)
	return identity
}

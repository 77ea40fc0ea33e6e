/**
 * @description
 * This file contains custom middleware for the HTTP router. Party identity
 * arrives on the X-Party-ID header, set by the upstream gateway after it has
 * authenticated the caller; this service only parses and carries it. Internal
 * endpoints are guarded by a shared API key.
 *
 * @dependencies
 * - context, crypto/subtle, net/http, strings: Standard Go libraries.
 * - github.com/google/uuid: For parsing the party id.
 */

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// PartyIDContextKey is a custom type for the context key to avoid collisions.
type PartyIDContextKey string

const partyIDKey PartyIDContextKey = "partyID"

// PartyAuthMiddleware requires a valid X-Party-ID header and puts the parsed
// UUID on the request context.
func PartyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("X-Party-ID"))
		if header == "" {
			http.Error(w, "X-Party-ID header required", http.StatusUnauthorized)
			return
		}
		partyID, err := uuid.Parse(header)
		if err != nil {
			http.Error(w, "Invalid X-Party-ID header", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), partyIDKey, partyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPartyID returns the authenticated party id placed on the context by
// PartyAuthMiddleware.
func GetPartyID(ctx context.Context) (uuid.UUID, bool) {
	partyID, ok := ctx.Value(partyIDKey).(uuid.UUID)
	return partyID, ok
}

// InternalAuthMiddleware guards internal/admin endpoints with a shared API key.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				http.Error(w, "Internal API not configured", http.StatusServiceUnavailable)
				return
			}
			provided := strings.TrimSpace(r.Header.Get("X-Internal-API-Key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package in

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"dwell/internal/platform/httpapi"
)

type userContextKey struct{}

// UserID returns the caller set by Authenticate.
func UserID(r *http.Request) string {
	userID, ok := r.Context().Value(userContextKey{}).(string)
	if !ok {
		panic("developer error: authenticate middleware not provided")
	}
	return userID
}

// Authenticate maps the bearer token to a user id and attaches it to the
// request context.
func Authenticate(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r)
			if !ok {
				httpapi.Write(rw, http.StatusUnauthorized, httpapi.Response{
					Message: "missing bearer token",
					Code:    "unauthorized",
				})
				return
			}
			userID, ok := lookup(tokens, token)
			if !ok {
				httpapi.Write(rw, http.StatusUnauthorized, httpapi.Response{
					Message: "unknown bearer token",
					Code:    "unauthorized",
				})
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey{}, userID)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func lookup(tokens map[string]string, token string) (string, bool) {
	for candidate, userID := range tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return userID, true
		}
	}
	return "", false
}

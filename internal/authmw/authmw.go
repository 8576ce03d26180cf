// Package authmw guards incident lifecycle actions with bearer token auth.
// Alert ingestion and read endpoints stay open so monitoring systems can
// post without credentials, only state mutations require a token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token matching the expected value. Comparison uses
// constant-time equality to prevent timing side-channel attacks.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w, `{"error":"missing or malformed authorization header"}`)
				return
			}

			got := []byte(auth[len("Bearer "):])

			if subtle.ConstantTimeCompare(got, expected) != 1 {
				unauthorized(w, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// unauthorized writes a 401 JSON body matching the API error envelope.
func unauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body + "\n"))
}

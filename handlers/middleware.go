package handlers

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth guards the dashboard API with HTTP basic auth. When a bcrypt
// hash is configured it takes precedence over the plaintext password; the
// plaintext comparison is constant-time.
func BasicAuth(username, password, passwordHash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !authValid(user, pass, username, password, passwordHash) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dashboard"`)
			WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Valid credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authValid(user, pass, username, password, passwordHash string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 {
		return false
	}
	if passwordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
}

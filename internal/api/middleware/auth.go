// Package middleware holds the http.Handler wrappers applied to API routes.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/newthinker/quantsim/internal/api/response"
	"github.com/newthinker/quantsim/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header.
// If apiKey is empty, authentication is disabled.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				response.Error(w, http.StatusUnauthorized,
					core.Errorf(core.ErrConfigMissing, "X-API-Key header required"))
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				response.Error(w, http.StatusUnauthorized,
					core.Errorf(core.ErrConfigInvalid, "X-API-Key rejected"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

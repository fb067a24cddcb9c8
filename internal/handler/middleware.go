package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"p2p-queue/internal/errors"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards administrator routes. An empty token disables the check.
func AdminAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

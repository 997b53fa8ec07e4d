package access

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// BackdoorMiddlewareBuilder is a helper builder for the backdoor middleware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an actual authorization
	Backdoors map[string]Authorization
}

// NewBackdoorMiddleware returns a middleware handler for a backdoor.
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Subject: "u1", Roles: []string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" will be authorized as user "u1" with the admin role.
//
// With curl, use -H 'Authorization: Bearer please' or pass a cookie with
// -b 'Caredose-JWT=please'. Development only, never configure this in
// production.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			if auth != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				}
			} else if cookie, _ := r.Cookie("Caredose-JWT"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}

			if bmb.Backdoors != nil {
				if tryAuth, ok := bmb.Backdoors[tokenString]; ok {
					ctx := tryAuth.ContextWithAuthorization(r.Context())
					ctx = ContextWithIdentity(ctx, tryAuth.Subject)
					r = r.WithContext(ctx)
				}
			}
			h.ServeHTTP(w, r)
		})
	}
}

/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context keys
const (
	contextKeyAuthorization contextKey = "_authorization_"
	contextKeyIdentity      contextKey = "_identity_"
)

/*Authorization is a context object which stores authorization information
for the user who is currently logged in.

An authorization carries the verified subject identifier of the requester
and a list of roles. It is added to the request context by the identity
middleware, based on the passed bearer token:

  ctx = auth.ContextWithAuthorization(ctx)

and retrieved with

  auth := access.AuthorizationFromContext(ctx)

The backend uses the authorization object to decide whether the requester
may act on a user's data: the subject must match the user in the request
path, unless the requester has the admin role.
*/
type Authorization struct {
	// Subject is the verified subject identifier from the identity provider.
	// It doubles as the user identifier in the document tree.
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// MayActFor returns true if the authorization belongs to the requested user,
// or if it carries the admin role.
func (a *Authorization) MayActFor(userID string) bool {
	if a == nil {
		return false
	}
	if a.HasRole("admin") {
		return true
	}
	return len(a.Subject) > 0 && a.Subject == userID
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// ContextWithIdentity returns a new context with the authenticated identity added to it
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context,
// or the empty string if the requester was not authenticated.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// the identity middleware to cache authorization objects for bearer tokens.
// The purpose of the cache is to avoid re-verifying the very same token for
// every single request.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from in-process cache.
// Token should be the temporary token the authorization was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-memory cache.
// Token should be the temporary token it was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for the provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("authorization")
	logger.Default().Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
		} else {
			jsonData, _ := json.MarshalIndent(auth, "", " ")
			w.Header().Set("Content-Type", "application/json")
			w.Write(jsonData)
		}
	}).Methods(http.MethodGet)
}

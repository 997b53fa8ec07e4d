package access

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core/logger"
	"github.com/caredose/caredose/core/registry"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// PublicKeyDownloadURL is the download url for the issuer's x509 certificates.
	// In case of Firebase/Google, this would be
	//  "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	PublicKeyDownloadURL string
	// Issuer is the accepted issuer for the token
	Issuer string
	// Admins is an optional list of subject identifiers which get the admin role
	Admins []string
	// Registry is an optional persistent registry. If set, downloaded certificates
	// are cached across restarts.
	Registry *registry.Registry
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as "Caredose-JWT"
// cookie. A valid token puts the subject identity and an authorization object
// into the request context; the subject identifier is the user identifier in
// the document tree.
//
// This is a final handler with regards to the bearer token: it returns
// http.StatusUnauthorized when a token is present but cannot be verified.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {

	wellKnownCertificates := map[string]string{}
	var timestamp time.Time
	var jwtRegistry *registry.Accessor
	if jmb.Registry != nil {
		accessor := jmb.Registry.Accessor("_jwt_")
		jwtRegistry = &accessor
		ts, err := jwtRegistry.Read(jmb.PublicKeyDownloadURL, &wellKnownCertificates)
		if err != nil {
			panic(err)
		}
		timestamp = ts
	}

	if time.Since(timestamp) > 6*time.Hour {
		// time to check for new keys
		res, err := http.Get(jmb.PublicKeyDownloadURL)
		if err == nil {
			defer res.Body.Close()
			decoder := json.NewDecoder(res.Body)
			err = decoder.Decode(&wellKnownCertificates)
			if err != nil {
				panic(err)
			}
			if jwtRegistry != nil {
				jwtRegistry.Write(jmb.PublicKeyDownloadURL, wellKnownCertificates)
			}
		}
	}

	wellKnownKeys := map[string]interface{}{}
	for kid, cert := range wellKnownCertificates {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		if err != nil {
			logger.Default().Errorln("certificate error", err)
		} else {
			wellKnownKeys[kid] = key
		}
	}

	jwksLookup := func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		key, ok := wellKnownKeys[kid]
		if ok {
			return key, nil
		}
		logger.Default().Warningf("have %d well known keys, but not this one", len(wellKnownKeys))
		return nil, errors.New("cannot verify token")
	}

	admins := map[string]bool{}
	for _, subject := range jmb.Admins {
		admins[subject] = true
	}

	authCache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			identity := IdentityFromContext(r.Context())

			if auth != nil || len(identity) > 0 { // already authorized or at least authenticated?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie("Caredose-JWT"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, jwksLookup)

			if err != nil || !token.Valid || claims.Issuer != jmb.Issuer || len(claims.Subject) == 0 {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			// now that we have authenticated the requester, we store their identity in the context
			ctx := ContextWithIdentity(r.Context(), claims.Subject)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, claims.Subject)

			// look up the authorization for the token. We cache by tokenString, so
			// repeated requests with the same token skip the role computation.
			auth = authCache.Read(tokenString)
			if auth == nil {
				roles := []string{"user"}
				if admins[claims.Subject] {
					roles = append(roles, "admin")
				}
				auth = &Authorization{Subject: claims.Subject, Roles: roles}
				authCache.Write(tokenString, auth)
			}

			ctx = auth.ContextWithAuthorization(ctx)
			r = r.WithContext(ctx)
			h.ServeHTTP(w, r)
		})
	}
}

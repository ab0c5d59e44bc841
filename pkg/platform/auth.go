package platform

import (
	"crypto/subtle"
	"net/http"
)

// Authorizer answers the single question the analysis API asks about a caller.
type Authorizer interface {
	Authorized(r *http.Request) bool
}

// BasicAuth checks HTTP basic credentials in constant time.
type BasicAuth struct {
	User string
	Pass string
}

func (b BasicAuth) Authorized(r *http.Request) bool {
	u, p, ok := r.BasicAuth()
	return ok &&
		subtle.ConstantTimeCompare([]byte(u), []byte(b.User)) == 1 &&
		subtle.ConstantTimeCompare([]byte(p), []byte(b.Pass)) == 1
}

// APIKey checks the X-API-Key header. An empty key admits everyone.
type APIKey struct {
	Key string
}

func (k APIKey) Authorized(r *http.Request) bool {
	if k.Key == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(k.Key)) == 1
}

// AuthorizerFromEnv picks basic auth when AUTH_USER/AUTH_PASS are set,
// otherwise API key auth from API_KEY.
func AuthorizerFromEnv() Authorizer {
	user := GetEnv("AUTH_USER", "")
	pass := GetEnv("AUTH_PASS", "")
	if user != "" || pass != "" {
		return BasicAuth{User: user, Pass: pass}
	}
	return APIKey{Key: GetEnv("API_KEY", "")}
}

// AuthMiddleware rejects requests the authorizer does not admit.
func AuthMiddleware(a Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if b, ok := a.(BasicAuth); ok && (b.User == "" || b.Pass == "") {
				// Half-configured basic auth must not fall open.
				http.Error(w, "Service Authentication Not Configured", http.StatusServiceUnavailable)
				return
			}
			if !a.Authorized(r) {
				if _, ok := a.(BasicAuth); ok {
					w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

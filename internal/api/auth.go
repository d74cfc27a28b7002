package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// UserHeader names the user a request acts for.
const UserHeader = "X-Opsai-User"

// BearerAuth rejects requests that do not carry token. The token is read
// from the Authorization header, or from the token query parameter on
// websocket upgrades, since browsers cannot set headers there.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := requestToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="opsai"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, bool) {
	if scheme, tok, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok), true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, true
		}
	}
	return "", false
}

// userResolver returns the acting user of a request: the UserHeader, then a
// user query parameter (websocket clients), then defaultUser.
func userResolver(defaultUser string) func(*http.Request) string {
	return func(r *http.Request) string {
		for _, u := range []string{r.Header.Get(UserHeader), r.URL.Query().Get("user")} {
			if u = strings.TrimSpace(u); u != "" {
				return u
			}
		}
		return defaultUser
	}
}

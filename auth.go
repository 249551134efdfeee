package wsrpc

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthorize builds an AuthorizeFunc that verifies a bearer token (the
// "Authorization: Bearer <token>" header) or, failing that, a cookie named
// cookieName, against secret. The session-cookie store itself remains the
// external collaborator spec.md §1 scopes out; this only supplies the
// token-verification primitive the rest of the retrieval pack pulls in
// (golang-jwt/jwt/v5, as used for the comparable auth layer in the
// happy-server-lite example).
func JWTAuthorize(secret []byte, cookieName string) AuthorizeFunc {
	keyFunc := func(t *jwt.Token) (any, error) { return secret, nil }

	return func(r *http.Request) bool {
		token := bearerToken(r)
		if token == "" && cookieName != "" {
			if c, err := r.Cookie(cookieName); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			return false
		}
		parsed, err := jwt.Parse(token, keyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		return err == nil && parsed.Valid
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

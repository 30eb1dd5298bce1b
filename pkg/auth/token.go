package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Header and metadata names read by the transports.
const (
	HeaderAuthorization = "authorization"
	HeaderRequestID     = "x-request-id"

	// QueryToken is the query parameter the WebSocket handler falls back
	// to when the upgrade request has no Authorization header.
	QueryToken = "token"
)

const bearerScheme = "bearer"

// ExtractBearerToken returns the token from an Authorization header value.
// The scheme is matched case-insensitively. It returns "" when the value
// is not a bearer credential.
//
//	ExtractBearerToken("Bearer abc")  // "abc"
//	ExtractBearerToken("bearer  abc") // "abc"
//	ExtractBearerToken("Basic abc")   // ""
func ExtractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

var hintParser = jwt.NewParser()

// userHint reads the unverified subject of a JWT so the reuse fingerprint
// is scoped per user before the auth service has answered. Opaque tokens
// yield "". The hint is never used as an identity.
func userHint(token string) string {
	if strings.Count(token, ".") != 2 {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := hintParser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	id, _ := claims["user_id"].(string)
	return id
}

package auth

import (
	"log/slog"
	"time"

	"github.com/StricklySoft/authgate/pkg/identity"
)

// Principal is the outcome of one successful Authenticate call: the local
// user record paired with the claims that admitted it. User.ID always
// equals Claims.UserID.
//
// A Principal is built per request and must not be cached across requests;
// the next request re-validates and re-reconciles.
type Principal struct {
	User            *identity.User
	Claims          identity.ValidationResult
	AuthenticatedAt time.Time
}

// ID returns the user id, or "" for a nil principal.
func (p *Principal) ID() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.ID
}

// LogValue keeps tokens and emails out of structured logs.
func (p *Principal) LogValue() slog.Value {
	if p == nil || p.User == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("user_id", p.User.ID),
		slog.String("role", p.User.Role),
	)
}

package auth

import (
	"fmt"
	"strings"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
	"github.com/StricklySoft/authgate/pkg/identity"
)

// Evaluator answers permission and admin questions about a Principal. The
// zero value is ready to use and safe for concurrent use.
//
// A permission grant matches a required permission when it is equal to it,
// when it is system:*, or when it is <prefix>:* and the required permission
// starts with <prefix>:. Stored permissions are consulted before claimed
// ones. A nil principal is never granted anything.
type Evaluator struct{}

// HasPermission reports whether p holds required.
func (Evaluator) HasPermission(p *Principal, required string) bool {
	if p == nil || required == "" {
		return false
	}
	if p.User != nil && grants(p.User.Permissions, required) {
		return true
	}
	return grants(p.Claims.Permissions, required)
}

// Require returns an AUTHZ_002 error unless p holds required.
func (e Evaluator) Require(p *Principal, required string) error {
	if e.HasPermission(p, required) {
		return nil
	}
	return sserr.New(sserr.CodeAuthorizationDenied, fmt.Sprintf("permission '%s' required", required))
}

// IsAdmin reports whether p is an administrator. Either path suffices: an
// admin role or superuser flag on the stored record or in the claims, or
// an admin-granting permission string in either permission list.
func (Evaluator) IsAdmin(p *Principal) bool {
	if p == nil {
		return false
	}
	if p.User.HasAdminRole() || identity.IsAdminRole(p.Claims.Role) {
		return true
	}
	if p.User != nil && identity.AdminPermissionGranted(p.User.Permissions) {
		return true
	}
	return identity.AdminPermissionGranted(p.Claims.Permissions)
}

// RequireAdmin returns an AUTHZ_003 error unless p is an administrator.
func (e Evaluator) RequireAdmin(p *Principal) error {
	if e.IsAdmin(p) {
		return nil
	}
	return sserr.New(sserr.CodeAuthorizationAdmin, "admin privileges required")
}

func grants(granted []string, required string) bool {
	for _, g := range granted {
		if g == required || g == identity.PermissionSystemAll {
			return true
		}
		if prefix, ok := strings.CutSuffix(g, ":*"); ok && prefix != "" && strings.HasPrefix(required, prefix+":") {
			return true
		}
	}
	return false
}

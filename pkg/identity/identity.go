// Package identity holds the identity types shared across authgate: the
// claims returned by the external auth service and the locally stored user
// record. It has no dependencies on the other authgate packages.
package identity

import (
	"slices"
	"strings"
	"time"
)

// Role names with administrative meaning.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Permission strings that grant administrative access on their own.
const (
	PermissionAdmin         = "admin"
	PermissionSystemAll     = "system:*"
	PermissionAdminWildcard = "admin:*"
)

// IsAdminRole reports whether role is admin or super_admin.
func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// AdminPermissionGranted reports whether perms contains admin, system:* or
// admin:*.
func AdminPermissionGranted(perms []string) bool {
	for _, p := range perms {
		switch p {
		case PermissionAdmin, PermissionSystemAll, PermissionAdminWildcard:
			return true
		}
	}
	return false
}

// ValidationResult is the auth service's verdict on a token. It is created
// per validation call and never persisted.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	UserID      string   `json:"user_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Normalize returns a copy with trimmed fields and a deduplicated
// permission set in first-seen order. Empty permission strings are dropped.
func (r ValidationResult) Normalize() ValidationResult {
	out := r
	out.UserID = strings.TrimSpace(r.UserID)
	out.Email = strings.TrimSpace(r.Email)
	out.Role = strings.TrimSpace(r.Role)
	out.Permissions = normalizePermissions(r.Permissions)
	return out
}

// HasAuthorizationData reports whether the claims assert a role or any
// permission. Claims without either never change a stored user.
func (r ValidationResult) HasAuthorizationData() bool {
	return r.Role != "" || len(r.Permissions) > 0
}

// GrantsAdmin is the claims-side admin predicate: an admin role or an
// admin-granting permission.
func (r ValidationResult) GrantsAdmin() bool {
	return IsAdminRole(r.Role) || AdminPermissionGranted(r.Permissions)
}

func normalizePermissions(perms []string) []string {
	if len(perms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// User is the locally stored account for an externally authenticated
// identity. The database layer owns it.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	IsSuperuser bool      `json:"is_superuser"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy of u. Clone of a nil user is nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

// HasAdminRole reports whether the stored role or superuser flag makes the
// user an administrator.
func (u *User) HasAdminRole() bool {
	return u != nil && (u.IsSuperuser || IsAdminRole(u.Role))
}

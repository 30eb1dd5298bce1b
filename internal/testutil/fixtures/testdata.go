// Package fixtures holds the tokens, user ids and roles shared by the
// gateway's test suites so scenarios read the same in every package.
package fixtures

// Users known to the fake auth service.
const (
	UserID       = "user-7f3a"
	UserEmail    = "ada@example.org"
	AdminID      = "admin-01"
	AdminEmail   = "root@example.org"
	NewcomerID   = "user-new-42"
	AltUserID    = "user-9b1c"
	UnknownToken = "tok-unknown"
)

// Bearer tokens. The values are opaque to the gateway; the fake auth
// service maps them to identities.
const (
	UserToken     = "tok-user-7f3a"
	AdminToken    = "tok-admin-01"
	NewcomerToken = "tok-newcomer"
	AltUserToken  = "tok-user-9b1c"
)

// Roles and permissions used across tests.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleStandard   = "standard_user"
	RoleEditor     = "editor"

	PermDocsRead  = "docs:read"
	PermDocsWrite = "docs:write"
	PermSystemAll = "system:*"
)

// Configuration used by loader-driven tests.
const (
	TestEnvPrefix = "AUTHGATE_TEST"

	TestGatewayYAML = `http_addr: "127.0.0.1:0"
auth:
  base_url: http://127.0.0.1:1
  timeout: 250ms
reuse:
  min_interval: 2s
users:
  default_role: viewer
`
)

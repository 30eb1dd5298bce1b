package errors

import "strings"

// Code is a machine-readable error code of the form CATEGORY_NNN. Codes are
// stable once assigned; dashboards and clients key off them.
type Code string

// Error code categories and the HTTP status they map to:
//
//	VAL_xxx     - 400 Bad Request
//	AUTH_xxx    - 401 Unauthorized
//	AUTHZ_xxx   - 403 Forbidden
//	NF_xxx      - 404 Not Found
//	CONF_xxx    - 409 Conflict
//	INT_xxx     - 500 Internal Server Error
//	UNAVAIL_xxx - 503 Service Unavailable
//	TIMEOUT_xxx - 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token has expired.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the auth service rejected the token.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationMissing indicates no bearer token was presented.
	CodeAuthenticationMissing Code = "AUTH_004"

	// CodeAuthenticationPayload indicates the auth service accepted the
	// token but its claims lack a user id.
	CodeAuthenticationPayload Code = "AUTH_005"

	// CodeAuthenticationReuse indicates the same token was presented again
	// inside the minimum reuse interval.
	CodeAuthenticationReuse Code = "AUTH_006"

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates a required permission is missing.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeAuthorizationAdmin indicates admin privileges are required.
	CodeAuthorizationAdmin Code = "AUTHZ_003"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the requested user does not exist.
	CodeNotFoundUser Code = "NF_002"

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists indicates the resource already exists.
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalUserCreation indicates auto-creating a local user failed.
	CodeInternalUserCreation Code = "INT_004"

	// CodeInternalUpstreamResponse indicates the auth service answered with
	// a body or status the client could not interpret.
	CodeInternalUpstreamResponse Code = "INT_005"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeUnavailableOverloaded indicates the service is overloaded.
	CodeUnavailableOverloaded Code = "UNAVAIL_003"

	// CodeUnavailableAuthService indicates the auth service could not be
	// reached or kept failing after retries.
	CodeUnavailableAuthService Code = "UNAVAIL_004"

	// CodeUnavailableCircuitOpen indicates the auth service circuit breaker
	// is open and the call was rejected without network I/O.
	CodeUnavailableCircuitOpen Code = "UNAVAIL_005"

	// CodeUnavailableAuthTimeout indicates the auth service did not answer
	// within the configured timeout. It maps to 503, not 504: for callers
	// it is an outage of authentication, not a slow gateway.
	CodeUnavailableAuthTimeout Code = "UNAVAIL_006"

	// CodeUnavailableDatabase indicates the user database timed out or
	// could not be reached.
	CodeUnavailableDatabase Code = "UNAVAIL_007"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to a dependency timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the code (e.g., "AUTH", "UNAVAIL").
func (c Code) Category() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i >= 0 {
		return s[:i]
	}
	return s
}

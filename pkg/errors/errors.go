// Package errors provides the structured error type used across authgate.
// Every failure that leaves a component carries a machine-readable [Code]
// whose category decides how transports render it: an authentication
// failure becomes HTTP 401 or WebSocket close code 4001, an unavailable
// dependency becomes HTTP 503, and so on.
//
// # Error Categories
//
//   - AUTH: the bearer token is missing, invalid, expired, malformed or reused
//   - AUTHZ: the principal lacks a required permission or admin privileges
//   - UNAVAIL: the auth service or the user database cannot be reached
//   - INT: an unexpected failure, such as a user auto-create that failed
//   - TIMEOUT: a low-level operation exceeded its deadline
//   - VAL, NF, CONF: input, lookup and conflict failures used by the clients
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationReuse, "token reuse detected")
//
//	if errors.IsUnavailable(err) {
//	    // translate to 503 so clients can tell an outage from bad credentials
//	}
//
// Messages on authentication and authorization errors are safe to show to
// clients. Causes are for logs only and must never be echoed back.
package errors

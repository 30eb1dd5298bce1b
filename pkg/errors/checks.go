package errors

import "errors"

// AsError finds the first *Error in err's chain.
//
//	if e, ok := errors.AsError(err); ok {
//	    slog.Warn("request failed", "code", e.Code, "message", e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "" when
// there is none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func inCategory(err error, categories ...string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	got := e.Code.Category()
	for _, c := range categories {
		if got == c {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool { return inCategory(err, "VAL") }

// IsAuthentication reports whether err is an AUTH_xxx error.
func IsAuthentication(err error) bool { return inCategory(err, "AUTH") }

// IsAuthorization reports whether err is an AUTHZ_xxx error.
func IsAuthorization(err error) bool { return inCategory(err, "AUTHZ") }

// IsNotFound reports whether err is an NF_xxx error.
func IsNotFound(err error) bool { return inCategory(err, "NF") }

// IsConflict reports whether err is a CONF_xxx error.
func IsConflict(err error) bool { return inCategory(err, "CONF") }

// IsInternal reports whether err is an INT_xxx error.
func IsInternal(err error) bool { return inCategory(err, "INT") }

// IsUnavailable reports whether err is an UNAVAIL_xxx error.
func IsUnavailable(err error) bool { return inCategory(err, "UNAVAIL") }

// IsTimeout reports whether err is a TIMEOUT_xxx error.
func IsTimeout(err error) bool { return inCategory(err, "TIMEOUT") }

// IsRetryable reports whether retrying the whole operation may succeed.
// Timeouts and unavailable dependencies are retryable; a reused or invalid
// token never is.
func IsRetryable(err error) bool { return inCategory(err, "TIMEOUT", "UNAVAIL") }

// IsClientError reports whether err maps to a 4xx status.
func IsClientError(err error) bool { return inCategory(err, "VAL", "AUTH", "AUTHZ", "NF", "CONF") }

// IsServerError reports whether err maps to a 5xx status.
func IsServerError(err error) bool { return inCategory(err, "INT", "UNAVAIL", "TIMEOUT") }

package errors

import (
	"context"
	"errors"
	"fmt"
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil if err is nil.
//
//	user, err := session.FindUserByID(ctx, id)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "failed to fetch user")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a code and a formatted message. It returns nil if
// err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a general validation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// NotFound creates a general not found error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Unauthorized creates an authentication error. The message is shown to
// clients, so keep it generic.
//
//	err := errors.Unauthorized("invalid or expired token")
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates an authorization error.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Internal creates a general internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Unavailable creates a general service unavailable error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Timeout creates a general timeout error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// ServiceUnavailable wraps a failure to reach the external auth service.
// The returned error always belongs to the UNAVAIL category.
func ServiceUnavailable(err error, message string) *Error {
	return &Error{Code: CodeUnavailableAuthService, Message: message, Cause: err}
}

// UserCreation wraps a failure to auto-create a local user record.
func UserCreation(err error, userID string) *Error {
	return Wrap(err, CodeInternalUserCreation, "failed to create local user").
		WithDetail("user_id", userID)
}

// Database classifies a failed user-store operation. Deadline and
// unavailability failures become [CodeUnavailableDatabase] so callers
// answer 503; everything else becomes [CodeInternalDatabase].
func Database(err error, message string) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || IsTimeout(err) || IsUnavailable(err) {
		return Wrap(err, CodeUnavailableDatabase, message)
	}
	return Wrap(err, CodeInternalDatabase, message)
}

// FromError converts any error to an *Error. An *Error anywhere in the
// chain is returned as-is; other errors become [CodeInternal].
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}

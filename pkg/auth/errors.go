package auth

import (
	"net/http"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// Machine codes returned to clients in error bodies, WebSocket auth_error
// frames and gRPC trailers.
const (
	MachineMissingToken           = "MISSING_TOKEN"
	MachineInvalidTokenPayload    = "INVALID_TOKEN_PAYLOAD"
	MachineTokenReuseDetected     = "TOKEN_REUSE_DETECTED"
	MachineInvalidToken           = "INVALID_TOKEN"
	MachinePermissionDenied       = "PERMISSION_DENIED"
	MachineAuthServiceTimeout     = "AUTH_SERVICE_TIMEOUT"
	MachineDatabaseUnavailable    = "DATABASE_UNAVAILABLE"
	MachineAuthServiceUnavailable = "AUTH_SERVICE_UNAVAILABLE"
	MachineInternalError          = "INTERNAL_ERROR"
)

// WebSocket close codes sent after an auth_error frame.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// MachineCode maps err onto the stable code clients branch on.
func MachineCode(err error) string {
	code := sserr.GetCode(err)
	switch {
	case code == sserr.CodeAuthenticationMissing:
		return MachineMissingToken
	case code == sserr.CodeAuthenticationPayload:
		return MachineInvalidTokenPayload
	case code == sserr.CodeAuthenticationReuse:
		return MachineTokenReuseDetected
	case code.Category() == "AUTH":
		return MachineInvalidToken
	case code.Category() == "AUTHZ":
		return MachinePermissionDenied
	case code == sserr.CodeUnavailableAuthTimeout:
		return MachineAuthServiceTimeout
	case code == sserr.CodeUnavailableDatabase, code == sserr.CodeTimeoutDatabase:
		return MachineDatabaseUnavailable
	case code.Category() == "UNAVAIL":
		return MachineAuthServiceUnavailable
	default:
		return MachineInternalError
	}
}

type failureClass int

const (
	classInternal failureClass = iota
	classUnauthorized
	classForbidden
	classUnavailable
)

func classify(err error) failureClass {
	switch {
	case sserr.IsAuthentication(err):
		return classUnauthorized
	case sserr.IsAuthorization(err):
		return classForbidden
	case sserr.IsUnavailable(err), sserr.HasCode(err, sserr.CodeTimeoutDatabase):
		return classUnavailable
	default:
		return classInternal
	}
}

// PublicMessage returns the text that may be shown to a client for err.
// Authentication and authorization messages are client-safe; everything
// else collapses to a generic sentence.
func PublicMessage(err error) string {
	switch classify(err) {
	case classUnauthorized, classForbidden:
		if e, ok := sserr.AsError(err); ok && e.Message != "" {
			return e.Message
		}
		return "not authorized"
	case classUnavailable:
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func httpStatus(err error) int {
	switch classify(err) {
	case classUnauthorized:
		return http.StatusUnauthorized
	case classForbidden:
		return http.StatusForbidden
	case classUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func closeCode(err error) int {
	switch classify(err) {
	case classUnauthorized:
		return CloseUnauthorized
	case classForbidden:
		return CloseForbidden
	case classUnavailable:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}

func grpcCode(err error) codes.Code {
	switch classify(err) {
	case classUnauthorized:
		return codes.Unauthenticated
	case classForbidden:
		return codes.PermissionDenied
	case classUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

package auth

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPMiddleware authenticates every request before it reaches next.
//
// The bearer token is read from the Authorization header and passed to
// authn. On success the Principal is stored in the request context (see
// [PrincipalFromContext]). On failure the middleware answers 401, 403, 503
// or 500 with a body of the form
//
//	{"error": {"code": "TOKEN_REUSE_DETECTED", "message": "token reuse detected"}}
//
// Each request carries an id taken from X-Request-ID or generated, echoed
// in the response header.
//
// Example:
//
//	mux.Handle("/api/admin", auth.HTTPMiddleware(gw, auth.WithAdminRequired())(adminHandler))
func HTTPMiddleware(authn Authenticator, opts ...Option) func(http.Handler) http.Handler {
	cfg := newTransportConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestID(r.Header.Get(HeaderRequestID))
			w.Header().Set(HeaderRequestID, id)
			ctx := ContextWithRequestID(r.Context(), id)

			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			p, err := cfg.authorize(ctx, authn, token)
			if err != nil {
				cfg.logRejection(ctx, "http", err)
				writeHTTPError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, p)))
		})
	}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:    MachineCode(err),
		Message: PublicMessage(err),
	}})
}

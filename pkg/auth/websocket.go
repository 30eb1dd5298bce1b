package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriteTimeout bounds the auth_error frame and the close frame.
const wsWriteTimeout = 5 * time.Second

// ConnectFunc serves an authenticated WebSocket connection. ctx carries
// the Principal and request id. The connection is closed when ConnectFunc
// returns.
type ConnectFunc func(ctx context.Context, conn *websocket.Conn, p *Principal)

type wsAuthError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebSocketHandler upgrades the connection and then authenticates it.
// Browsers cannot set headers on a WebSocket handshake, so the token may
// also arrive as the token query parameter; the Authorization header wins
// when both are present.
//
// Authenticating after the upgrade lets the client receive a structured
// reason. On failure the handler sends
//
//	{"type":"auth_error","code":"INVALID_TOKEN","message":"invalid or expired token"}
//
// followed by a close frame: 4001 unauthorized, 4003 forbidden, 1013 when
// a dependency is unavailable, 1011 otherwise.
func WebSocketHandler(authn Authenticator, onConnect ConnectFunc, opts ...Option) http.Handler {
	cfg := newTransportConfig(opts)
	upgrader := websocket.Upgrader{CheckOrigin: cfg.checkOrigin}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r.Header.Get(HeaderRequestID))
		ctx := ContextWithRequestID(r.Context(), id)

		token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
		if token == "" {
			token = r.URL.Query().Get(QueryToken)
		}

		conn, err := upgrader.Upgrade(w, r, http.Header{"X-Request-Id": []string{id}})
		if err != nil {
			// The upgrader has already answered with an HTTP error.
			cfg.logger.DebugContext(ctx, "auth: websocket upgrade failed", "request_id", id, "error", err)
			return
		}
		defer conn.Close()

		p, err := cfg.authorize(ctx, authn, token)
		if err != nil {
			cfg.logRejection(ctx, "websocket", err)
			rejectWebSocket(conn, err)
			return
		}

		onConnect(ContextWithPrincipal(ctx, p), conn, p)
	})
}

func rejectWebSocket(conn *websocket.Conn, err error) {
	deadline := time.Now().Add(wsWriteTimeout)
	code := MachineCode(err)

	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(wsAuthError{Type: "auth_error", Code: code, Message: PublicMessage(err)})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode(err), code), deadline)
}

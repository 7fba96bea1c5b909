package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/auth"
	"github.com/pearl-rdm/pearl/internal/websocket"
)

// WSHandler upgrades authenticated requests to WebSocket connections and
// hands them to the hub.
//
// Browsers cannot set an Authorization header on a WebSocket handshake, so
// the access token is carried in the "token" query parameter instead.
type WSHandler struct {
	hub      *websocket.Hub
	snapshot *SnapshotSource
	jwtMgr   *auth.JWTManager
	logger   *zap.Logger
}

// NewWSHandler creates the upgrade handler.
func NewWSHandler(hub *websocket.Hub, snapshot *SnapshotSource, jwtMgr *auth.JWTManager, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		snapshot: snapshot,
		jwtMgr:   jwtMgr,
		logger:   logger.Named("ws"),
	}
}

// Serve handles GET /ws. The sequence matters: the hello and the full
// snapshot are queued into the client's send buffer before the client is
// registered with the hub, so the baseline always precedes the first
// incremental event the client observes.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		ErrUnauthorized(w)
		return
	}
	claims, err := h.jwtMgr.ValidateAccessToken(token)
	if err != nil {
		ErrUnauthorized(w)
		return
	}

	sessionID := uuid.NewString()

	// Snapshot is collected before the upgrade so a repository failure can
	// still be reported as a plain HTTP error. Events broadcast between this
	// read and the hub registration inside Run are neither in the baseline
	// nor delivered; delivery is at-most-once, and the client catches up on
	// the record's next change or on its next reconnect snapshot.
	msgs, err := h.snapshot.Collect(r.Context())
	if err != nil {
		h.logger.Error("snapshot failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	client, err := websocket.NewClient(h.hub, w, r, sessionID, h.logger)
	if err != nil {
		// Upgrade failed; gorilla already wrote the HTTP error response.
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	for _, msg := range msgs {
		client.QueueSnapshot(msg)
	}

	h.logger.Info("client connected",
		zap.String("session_id", sessionID),
		zap.String("user_id", claims.UserID),
	)

	// Blocks for the lifetime of the connection.
	client.Run()

	h.logger.Info("client disconnected",
		zap.String("session_id", sessionID),
		zap.String("user_id", claims.UserID),
	)
}

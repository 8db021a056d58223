package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopwire/shopwire/auth"
	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/globals"
)

// Handler authenticates the websocket handshake and hands verified connections
// over to the room registry. A missing or invalid token rejects the request
// before the upgrade, so no partial connection state ever exists.
type Handler struct {
	cfg      *config.Config
	registry *Registry
	verifier *Verifier
	upgrader websocket.Upgrader
}

func NewHandler(cfg *config.Config, registry *Registry, verifier *Verifier) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.Authenticate(BearerToken(r), h.cfg)
	if err != nil {
		globals.AppLogger.Info("rejecting connection", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	client := NewClient(conn, claims, h.registry, h.verifier, h.cfg.HubConfig.SendBufferSize())
	globals.AppLogger.Info("client connected", "client", client.Id, "user", client.UserId)

	go client.WriteLoop()
	client.ReadLoop() // returns when the connection is gone, cleanup happens in its defer
	globals.AppLogger.Info("client disconnected", "client", client.Id, "user", client.UserId)
}

// BearerToken extracts the credential from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query parameter.
func BearerToken(r *http.Request) string {
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
		return strings.TrimPrefix(ah, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

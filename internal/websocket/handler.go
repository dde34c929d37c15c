package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/choreboard/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and streams the caller's
// family updates until the connection closes.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := auth.RequireMember(r.Context())
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		opts := &ws.AcceptOptions{OriginPatterns: originPatterns}
		if len(originPatterns) == 0 {
			// Family tablets load the UI from the LAN address.
			opts.InsecureSkipVerify = true
		}
		conn, err := ws.Accept(w, r, opts)
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}

		hub.logger.Debug("client connected", "family_id", ac.FamilyID, "actor_id", ac.ActorID)
		client := NewClient(hub, conn, ac.FamilyID)
		client.Run(r.Context())
	}
}

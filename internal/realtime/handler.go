package realtime

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The connect path carries no credentials: anyone who knows a gallery id
	// receives its selection events, from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades /ws?gallery=<id> and registers the viewer under that
// gallery for the life of the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	galleryID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("gallery")), 10, 64)
	if err != nil || galleryID <= 0 {
		http.Error(w, "gallery query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Warn(r.Context(), "websocket upgrade failed", "gallery_id", galleryID, "error", err)
		return
	}

	client := newClient(h, conn, util.NewID("ws"), galleryID)
	if err := h.Register(client); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.log.Debug(context.Background(), "live connection opened", "gallery_id", galleryID, "connection_id", client.id)

	go client.writePump()
	go client.readPump()
}

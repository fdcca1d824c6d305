package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wintlu/stereo-play/cache"
	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMiddleware is the shared debug tee installed on every connection
// (§9's Middleware hook); stateless, so one instance suffices.
var wsMiddleware = transport.LoggingMiddleware{}

// webSocketHandler upgrades one connection per client and hands its
// read/write pumps to the shared dispatcher (§4.6).
type webSocketHandler struct {
	dispatcher *transport.Dispatcher
	presence   *cache.PresenceMirror
}

func (h *webSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	clientID := uuid.New().String()
	client := transport.NewClient(clientID, conn)
	h.dispatcher.RegisterConn(clientID, client)
	h.presence.MarkOnline(clientID)

	go client.WritePump(wsMiddleware)
	client.ReadPump(r.Context(), wsMiddleware, h.dispatcher.Handle, func() {
		h.dispatcher.UnregisterConn(clientID)
		h.presence.MarkOffline(clientID)
	})
}

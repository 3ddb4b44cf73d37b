package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/research"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS enforced by the proxy layer
}

// handleWS streams progress events for a session over a websocket.
// GET /stream/ws?session_id=<id>
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "session_id required")
		return
	}
	if _, err := a.store.Load(r.Context(), id); err != nil {
		if errors.Is(err, research.ErrNotFound) {
			writeError(w, http.StatusNotFound, research.KindNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, research.KindInternal, "failed to load session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := a.bus.Subscribe(id, subscriberBuffer)
	defer a.bus.Unsubscribe(id, sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// reader pump: discard client messages, notice disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			a.logger.Debug("ws client disconnected", zap.String("session_id", id))
			return
		case evt, open := <-sub.C:
			if !open {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			if evt.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

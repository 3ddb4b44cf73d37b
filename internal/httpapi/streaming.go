package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/research"
)

const subscriberBuffer = 256

// handleSSE streams progress events for a session via Server-Sent Events.
// GET /stream/sse?session_id=<id>
func (a *API) handleSSE(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := a.bus.Subscribe(id, subscriberBuffer)
	defer a.bus.Unsubscribe(id, sub)

	fmt.Fprintf(w, ": connected to session %s\n\n", id)
	flusher.Flush()

	// heartbeat keeps proxies from reaping idle connections
	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("sse client disconnected", zap.String("session_id", id))
			return
		case evt, open := <-sub.C:
			if !open {
				return
			}
			if evt.Seq > 0 {
				fmt.Fprintf(w, "id: %d\n", evt.Seq)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Marshal())
			flusher.Flush()
			if evt.Terminal() {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

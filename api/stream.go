/*
stream.go - Server-Sent Events notification stream

PURPOSE:
  Bridges the in-process fanout to an SSE response. Each connection
  subscribes for the acting user, replays rows missed since the
  Last-Event-ID the client presents, then relays live events until the
  client disconnects.

WIRE FORMAT:
  id: <notification id>
  event: <notification type>
  data: <NotificationDTO as JSON>

  Heartbeats are comment frames (":\n\n") so idle proxies keep the
  connection open without the client seeing an event.

RECONNECTS:
  Browsers resend the last seen id in the Last-Event-ID header; clients
  without native EventSource can pass ?last_event_id= instead. The
  notification id doubles as the client's idempotency key, so a row that
  arrives both via backfill and live delivery is applied once.

SEE ALSO:
  - notify/fanout.go: subscription registry and backfill
  - handlers.go: the rest of the notification surface
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/warp/card-market/notify"
)

// Stream handles GET /api/notifications/stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternalError(w, fmt.Errorf("streaming unsupported by response writer"))
		return
	}

	lastEventID, err := parseLastEventID(r)
	if err != nil {
		writeBadRequest(w, "invalid last event id")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Fanout.Subscribe(r.Context(), uid, notify.SubscribeOptions{
		LastEventID:   lastEventID,
		BackfillLimit: h.BackfillLimit,
	})
	defer h.Fanout.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-sub.Events():
			if ev.Heartbeat {
				fmt.Fprint(w, ":\n\n")
				flusher.Flush()
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// parseLastEventID reads the resume cursor from the standard header,
// falling back to a query parameter for non-EventSource clients.
func parseLastEventID(r *http.Request) (int64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("bad last event id %q", raw)
	}
	return id, nil
}

func writeSSE(w http.ResponseWriter, ev notify.Event) error {
	payload, err := json.Marshal(toNotificationDTO(ev.Notification))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n",
		ev.Notification.ID, ev.Notification.Type, payload)
	return err
}

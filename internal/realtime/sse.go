package realtime

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// StreamHandler serves a course's update stream over server-sent events.
// It registers one connection per request and writes frames until the
// client disconnects or the registry shuts down.
type StreamHandler struct {
	registry *Registry
	log      *logger.Logger
}

func NewStreamHandler(registry *Registry, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		registry: registry,
		log:      log.With(logger.Component("sse_handler")),
	}
}

// Serve streams updates for courseID to the client behind w. Blocks until
// the stream ends; the HTTP layer calls it from the route handler.
//
// A client may pass its own connection id in the connection_id query
// parameter; re-registering it replaces the stale entry left behind by a
// dropped stream. Without one, each request gets a fresh id.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request, courseID, userID uuid.UUID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connID, err := uuid.Parse(r.URL.Query().Get("connection_id"))
	if err != nil {
		connID = uuid.New()
	}

	conn, err := h.registry.Register(connID, userID, []uuid.UUID{courseID})
	if err != nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.registry.Unregister(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Initial comment frame so the client sees the stream open immediately
	// instead of waiting for the first event or keepalive.
	if _, err := w.Write(KeepaliveFrame().EncodeSSE()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("client disconnected",
				logger.ConnectionID(conn.ID.String()),
				logger.CourseID(courseID.String()),
			)
			return
		case <-conn.Done():
			return
		case frame := <-conn.Outbound():
			if _, err := w.Write(frame.EncodeSSE()); err != nil {
				h.log.Debug("stream write failed",
					logger.ConnectionID(conn.ID.String()),
					logger.Err(err),
				)
				return
			}
			flusher.Flush()
		}
	}
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iconidentify/streamfetch/internal/domain"
)

const (
	keepaliveInterval = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// EventSource is implemented by the event bus.
type EventSource interface {
	GetRecent(n int) []domain.Event
	QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
	Subscribe() (uint64, <-chan domain.Event)
	Unsubscribe(id uint64)
}

// EventHandler serves recorded events and live event streams.
type EventHandler struct {
	events   EventSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events EventSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Access is gated by the API key, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// EventListResponse wraps a page of events.
type EventListResponse struct {
	Events  []domain.Event `json:"events"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// Recent handles GET /api/v1/events/recent.
// Returns the most recent N events (default 50, max 500), newest first.
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	n := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			n = parsed
		}
	}

	events := h.events.GetRecent(n)
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{Events: events, Total: len(events), Limit: n})
}

// History handles GET /api/v1/events/history.
// Query parameters:
//   - kind, severity, job_id, group_id: filters
//   - start_time, end_time: RFC3339 bounds
//   - limit (default 50, max 200), offset: pagination
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.EventQuery{Limit: 50}

	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}
	if kind := q.Get("kind"); kind != "" {
		k := domain.EventKind(kind)
		query.Filter.Kind = &k
	}
	if sev := q.Get("severity"); sev != "" {
		s := domain.EventSeverity(sev)
		query.Filter.Severity = &s
	}
	query.Filter.JobID = domain.JobID(q.Get("job_id"))
	query.Filter.GroupID = domain.GroupID(q.Get("group_id"))
	for param, dst := range map[string]**time.Time{"start_time": &query.Filter.StartTime, "end_time": &query.Filter.EndTime} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+param)
			return
		}
		*dst = &t
	}

	result, err := h.events.QueryHistorical(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to query event history", "error", err)
		writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}
	events := result.Events
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{
		Events:  events,
		Total:   result.Total,
		Limit:   query.Limit,
		Offset:  query.Offset,
		HasMore: result.HasMore,
	})
}

// streamFilter selects events for one stream client from the kind,
// job_id and group_id query parameters.
type streamFilter struct {
	kinds   map[domain.EventKind]bool
	jobID   domain.JobID
	groupID domain.GroupID
}

func newStreamFilter(r *http.Request) streamFilter {
	q := r.URL.Query()
	f := streamFilter{
		jobID:   domain.JobID(q.Get("job_id")),
		groupID: domain.GroupID(q.Get("group_id")),
	}
	if kinds := q.Get("kind"); kinds != "" {
		f.kinds = make(map[domain.EventKind]bool)
		for _, k := range strings.Split(kinds, ",") {
			f.kinds[domain.EventKind(strings.TrimSpace(k))] = true
		}
	}
	return f
}

func (f streamFilter) match(e domain.Event) bool {
	if f.kinds != nil && !f.kinds[e.Kind] {
		return false
	}
	if f.jobID != "" && e.JobID != f.jobID {
		return false
	}
	if f.groupID != "" && e.GroupID != f.groupID {
		return false
	}
	return true
}

// Stream handles GET /api/v1/events/stream.
// Server-Sent Events endpoint; the SSE event name is the event kind.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	filter := newStreamFilter(r)
	subID, eventCh := h.events.Subscribe()
	defer h.events.Unsubscribe(subID)

	logger := h.logger.With("subscriber_id", subID, "remote_addr", r.RemoteAddr)
	logger.Info("SSE client connected")

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\": %d}\n\n", subID)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("SSE client disconnected")
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if !filter.match(event) {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Warn("failed to serialize event", "event_id", event.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Kind, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// WebSocket handles GET /api/v1/events/ws.
// Each event is sent as one JSON text message. Client messages are read
// only to notice disconnects.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := newStreamFilter(r)
	subID, eventCh := h.events.Subscribe()
	defer h.events.Unsubscribe(subID)

	logger := h.logger.With("subscriber_id", subID, "remote_addr", r.RemoteAddr)
	logger.Info("websocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepaliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Info("websocket client disconnected")
			return

		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if !filter.match(event) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Info("websocket write failed", "error", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

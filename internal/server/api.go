package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/version"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: err, Message: msg})
}

// sourceStatus maps a source error to an HTTP status. A cancelled fetch
// means the client went away.
func sourceStatus(err error) int {
	switch {
	case errors.Is(err, timeline.ErrFetchCancelled):
		return 499
	case errors.Is(err, timeline.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleGetBuckets lists day buckets.
// GET /api/v1/buckets?order=asc|desc&album=&media_type=
func (s *HTTPServer) handleGetBuckets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order := timeline.ParseOrder(q.Get("order"))

	buckets, err := s.src.ListBuckets(r.Context(), timeline.FilterFromValues(q))
	if err != nil {
		s.log.Error("list buckets failed", "error", err)
		writeError(w, sourceStatus(err), api.CodeListFailed, err.Error())
		return
	}
	timeline.SortBuckets(buckets, order)

	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	writeJSON(w, http.StatusOK, api.BucketsResponse{
		Buckets: buckets,
		Order:   order.String(),
		Total:   total,
	})
}

// handleGetBucketItems returns the items of one bucket.
// GET /api/v1/buckets/{key}/items
func (s *HTTPServer) handleGetBucketItems(w http.ResponseWriter, r *http.Request) {
	key := timeline.NormalizeKey(chi.URLParam(r, "key"))
	if !key.Valid() {
		writeError(w, http.StatusBadRequest, api.CodeInvalidKey, "bucket key must be YYYY-MM-DD")
		return
	}

	items, err := s.src.FetchBucketItems(r.Context(), key, timeline.FilterFromValues(r.URL.Query()))
	if err != nil {
		s.log.Error("fetch bucket failed", "bucket", key, "error", err)
		writeError(w, sourceStatus(err), api.CodeFetchFailed, err.Error())
		return
	}
	if items == nil {
		items = []timeline.Item{}
	}
	writeJSON(w, http.StatusOK, api.ItemsResponse{Key: key, Items: items})
}

// handleGetInfo describes the server and library.
// GET /api/v1/info
func (s *HTTPServer) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.src.ListBuckets(r.Context(), timeline.Filter{})
	if err != nil {
		writeError(w, sourceStatus(err), api.CodeListFailed, err.Error())
		return
	}
	resp := api.InfoResponse{
		Version:  version.Get(),
		Library:  s.config.Library,
		Buckets:  len(buckets),
		Watching: s.config.Watching,
	}
	for _, b := range buckets {
		resp.Items += b.Count
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents upgrades to a websocket and streams library change events.
// GET /api/v1/events
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		s.log.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// reads are only needed to notice the client closing
	ctx := conn.CloseRead(r.Context())

	ch, unsub := s.hub.Subscribe()
	defer unsub()

	wsConnectionsActive.Inc()
	defer wsConnectionsActive.Dec()
	s.log.Info("event client connected", "remote", r.RemoteAddr)

	if err := writeEvent(ctx, conn, api.Event{Type: api.EventHello, At: time.Now().UTC()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.log.Debug("event write failed", "error", err)
				return
			}
		}
	}
}

const eventWriteTimeout = 5 * time.Second

func writeEvent(ctx context.Context, conn *websocket.Conn, ev api.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/anpr-core/anpr/pkg/anpr"
	"github.com/gorilla/websocket"
)

// Server is the HTTP/WebSocket front door onto a running Pipeline. Every
// handler is nil-safe: when the Server was built with a nil pipeline, every
// route beyond / answers 503 rather than panicking.
type Server struct {
	pipeline *anpr.Pipeline
	hub      *Hub
	mux      *http.ServeMux
}

// NewServer constructs a Server bound to a pipeline. The pipeline's event
// subscription is drained immediately to feed the WebSocket hub.
func NewServer(pipeline *anpr.Pipeline) *Server {
	s := &Server{pipeline: pipeline}
	if pipeline != nil {
		s.hub = newHub(pipeline.Stats())
		go s.hub.run(pipeline.Subscribe())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/events/recent", s.handleRecentEvents)
	mux.HandleFunc("/events/search", s.handleSearchEvents)
	mux.HandleFunc("/events/stats/hourly", s.handleHourlyStats)
	mux.HandleFunc("/cameras", s.handleCameras)
	mux.HandleFunc("/video/{camera}", s.handleVideo)
	mux.HandleFunc("/live", s.handleLiveWS)
	s.mux = mux
	return s
}

// Handler returns the server's routed http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "anpr"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w)
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Stats().Snapshot())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.pipeline.Writer().RecentEvents(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w)
		return
	}

	plate := r.URL.Query().Get("plate")
	if plate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "plate query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.pipeline.Writer().EventsByPlate(ctx, plate)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// hourlyBucket aggregates event counts for one hour.
type hourlyBucket struct {
	Hour  string `json:"hour"`
	Entry int    `json:"entry"`
	Exit  int    `json:"exit"`
}

func (s *Server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.pipeline.Writer().RecentEvents(ctx, 1000)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	buckets := make(map[string]*hourlyBucket)
	order := make([]string, 0)
	for _, ev := range events {
		key := ev.Timestamp.Format("2006-01-02T15:00")
		b, ok := buckets[key]
		if !ok {
			b = &hourlyBucket{Hour: key}
			buckets[key] = b
			order = append(order, key)
		}
		switch ev.Type {
		case anpr.EventEntry:
			b.Entry++
		case anpr.EventExit:
			b.Exit++
		}
	}

	out := make([]*hourlyBucket, 0, len(order))
	for _, k := range order {
		out = append(out, buckets[k])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w)
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.CameraStatuses())
}

// handleVideo is a placeholder for the per-camera live video stream: it
// upgrades the connection and immediately closes it with a status message,
// acknowledging the route without shipping a video codec.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w)
		return
	}

	cameraID, err := strconv.Atoi(r.PathValue("camera"))
	if err != nil || !s.pipeline.HasCamera(cameraID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown camera"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"not_implemented"}`))
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil || s.hub == nil {
		writeUnavailable(w)
		return
	}
	s.hub.serveWS(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeUnavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "pipeline not yet initialized"})
}

package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	keepaliveInterval = 30 * time.Second
	maxRequestBody    = 1 << 20
)

// Server serves the bridge over HTTP
type Server struct {
	dispatcher *Dispatcher
	hub        *Hub
	mux        *http.ServeMux
}

// NewServer builds the HTTP routes for d and hub
func NewServer(d *Dispatcher, hub *Hub) *Server {
	s := &Server{dispatcher: d, hub: hub, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /api/method/{name}", s.handleMethod)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Mount adds another handler, such as texture streams or WebRTC signaling
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSONWithStatus(w, Response{Error: &Error{Code: CodeInvalidArgument, Message: "unreadable body"}}, http.StatusBadRequest)
		return
	}

	result, err := s.dispatcher.Call(r.Context(), r.PathValue("name"), json.RawMessage(body))
	if err != nil {
		be := toError(err)
		writeJSONWithStatus(w, Response{Error: be}, httpStatus(be.Code))
		return
	}
	writeJSON(w, Response{Result: result})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.dispatcher.ctrl.Status()
	writeJSON(w, map[string]any{
		"status":      "ok",
		"state":       st.State,
		"subscribers": s.hub.Subscribers(),
		"timestamp":   float64(time.Now().Unix()),
	})
}

// streamEventsFromChannel writes pre-serialized events as SSE until the
// client goes away or the hub closes the channel.
func streamEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				log.Debug("SSE client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				log.Debug("SSE client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

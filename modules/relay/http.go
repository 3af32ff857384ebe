package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

type setStreamRequest struct {
	URL string `json:"url"`
}

type setStreamResponse struct {
	Message string `json:"message"`
	NewURL  string `json:"newUrl,omitempty"`
}

// RegisterHandlers mounts the listener, switch and status endpoints on router.
func (r *Relay) RegisterHandlers(router *mux.Router) {
	router.Path("/live").Methods(http.MethodGet).HandlerFunc(r.handleLive)
	router.Path("/set-stream").Methods(http.MethodPost).HandlerFunc(r.handleSetStream)
	router.Path("/status").Methods(http.MethodGet).HandlerFunc(r.handleStatus)
}

func (r *Relay) handleLive(w http.ResponseWriter, req *http.Request) {
	l := NewListener(req.RemoteAddr, r.cfg.ListenerQueueSize)
	if err := r.Subscribe(req.Context(), l); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer r.Unsubscribe(l.ID())

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	_ = http.NewResponseController(w).Flush()

	err := l.Serve(req.Context(), w)
	r.logger.Debug("listener finished", "listener", l.ID(), "remote", l.remote, "err", err)
}

func (r *Relay) handleSetStream(w http.ResponseWriter, req *http.Request) {
	var body setStreamRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, setStreamResponse{Message: "invalid request body"})
		return
	}
	if body.URL == "" {
		writeJSON(w, http.StatusBadRequest, setStreamResponse{Message: "url is required"})
		return
	}

	accepted, err := r.SetTarget(req.Context(), body.URL)
	switch {
	case errors.Is(err, ErrInvalidTarget):
		writeJSON(w, http.StatusBadRequest, setStreamResponse{Message: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, setStreamResponse{Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, setStreamResponse{
		Message: fmt.Sprintf("new stream activated: %s", accepted),
		NewURL:  accepted,
	})
}

func (r *Relay) handleStatus(w http.ResponseWriter, req *http.Request) {
	s, err := r.Status(req.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, setStreamResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

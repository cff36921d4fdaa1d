// Package status serves the client state over HTTP for local tooling.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tempinbox/tempinbox-go/pkg/client"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
)

// Source is the client surface the handlers read and drive. Implemented by
// *client.Client.
type Source interface {
	Status() (client.Status, error)
	View() (inbox.ViewState, error)
	Navigate(page int)
	Refresh()
}

var _ Source = (*client.Client)(nil)

// NewRouter returns the status routes. metrics may be nil.
func NewRouter(src Source, metrics http.Handler, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{src: src, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/view", h.view).Methods(http.MethodGet)
	r.HandleFunc("/view/page/{page:[0-9]+}", h.navigate).Methods(http.MethodPost)
	r.HandleFunc("/view/refresh", h.refresh).Methods(http.MethodPost)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

type handlers struct {
	src    Source
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.src.Status(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK\n"))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	s, err := h.src.Status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, s)
}

func (h *handlers) view(w http.ResponseWriter, r *http.Request) {
	v, err := h.src.View()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, v)
}

func (h *handlers) navigate(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil || page < 1 {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	h.src.Navigate(page)
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	h.src.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("status: write response", slog.Any("error", err))
	}
}

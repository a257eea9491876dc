// Package httpapi exposes the progressive catalog over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/krisalay/progressive-cache/adaptive"
	"github.com/krisalay/progressive-cache/progressive"
	"github.com/krisalay/progressive-cache/refresh"
	"github.com/krisalay/progressive-cache/slides"
)

// Deps are the collaborators the handlers serve.
type Deps struct {
	Registry *progressive.Registry
	Listing  *adaptive.Loader[progressive.Record]
	Focus    *refresh.Notifier

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

type Server struct {
	deps   Deps
	router *mux.Router
	log    *zap.Logger
}

func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		log:    logger.Named("http"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(requestID, logging(s.log), recovery(s.log))

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/focus", s.focus).Methods(http.MethodPost)

	sl := r.PathPrefix("/slides").Subrouter()
	sl.HandleFunc("", s.listSlides).Methods(http.MethodGet)
	sl.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	sl.HandleFunc("/details", s.loadDetails).Methods(http.MethodPost)
	sl.HandleFunc("/prefetch", s.prefetch).Methods(http.MethodPost)
	sl.HandleFunc("/cache", s.clearCache).Methods(http.MethodDelete)
	sl.HandleFunc("/{id}", s.getSlide).Methods(http.MethodGet)

	if s.deps.Listing != nil {
		ls := r.PathPrefix("/listing").Subrouter()
		ls.HandleFunc("", s.listing).Methods(http.MethodGet)
		ls.HandleFunc("/next", s.listingNext).Methods(http.MethodPost)
		ls.HandleFunc("/full", s.listingFull).Methods(http.MethodPost)
		ls.HandleFunc("/reset", s.listingReset).Methods(http.MethodPost)
	}

	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.deps.Metrics).Methods(http.MethodGet)
	}
}

type metadataStatus struct {
	IsLoading     bool      `json:"isLoading"`
	IsStale       bool      `json:"isStale"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
	Error         string    `json:"error,omitempty"`
}

type slidesResponse struct {
	Data     []slides.Slide    `json:"data"`
	Metadata metadataStatus    `json:"metadata"`
	Stats    progressive.Stats `json:"stats"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// manager returns the activated manager for the filter in the query string.
func (s *Server) manager(r *http.Request) *progressive.Manager {
	m := s.deps.Registry.Get(progressive.FilterFromValues(r.URL.Query()))
	m.Activate(r.Context())
	return m
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) focus(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Focus.Notify(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSlides(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r)

	items, err := slides.FromItems(m.Items())
	if err != nil {
		s.log.Error("failed to decode slides", zap.Error(err))
		writeError(w, http.StatusBadGateway, "catalog returned malformed records")
		return
	}

	meta := m.Metadata()
	status := metadataStatus{
		IsLoading:     meta.IsLoading,
		IsStale:       meta.IsStale,
		LastFetchedAt: meta.LastFetchedAt,
	}
	if meta.Err != nil {
		status.Error = meta.Err.Error()
		if !meta.HasData {
			writeError(w, http.StatusBadGateway, status.Error)
			return
		}
	}

	writeJSON(w, http.StatusOK, slidesResponse{
		Data:     items,
		Metadata: status,
		Stats:    m.Stats(),
	})
}

func (s *Server) getSlide(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r)

	it, ok := m.GetItem(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "slide not found")
		return
	}
	sl, err := slides.FromItem(it)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager(r).Stats())
}

func (s *Server) loadDetails(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	m := s.manager(r)

	if err := m.LoadDetails(r.Context(), req.IDs...); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	out := make([]slides.Slide, 0, len(req.IDs))
	for _, id := range req.IDs {
		it, ok := m.GetItem(id)
		if !ok {
			continue
		}
		sl, err := slides.FromItem(it)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		out = append(out, sl)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) prefetch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	m := s.manager(r)
	m.Prefetch(req.IDs...)
	writeJSON(w, http.StatusAccepted, m.Stats())
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	s.manager(r).ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

type listingResponse struct {
	Strategy    adaptive.Strategy    `json:"strategy"`
	CurrentPage int                  `json:"currentPage"`
	HasNextPage bool                 `json:"hasNextPage"`
	Total       int                  `json:"total"`
	IsLoading   bool                 `json:"isLoading"`
	Error       string               `json:"error,omitempty"`
	Data        []progressive.Record `json:"data"`
}

func (s *Server) writeListing(w http.ResponseWriter, st adaptive.State[progressive.Record]) {
	resp := listingResponse{
		Strategy:    st.Strategy,
		CurrentPage: st.CurrentPage,
		HasNextPage: st.HasNext,
		Total:       st.Total,
		IsLoading:   st.IsLoading,
		Data:        st.Items,
	}
	if resp.Data == nil {
		resp.Data = []progressive.Record{}
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listing(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, s.deps.Listing.Start(r.Context()))
}

func (s *Server) listingNext(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, s.deps.Listing.LoadNextPage(r.Context()))
}

func (s *Server) listingFull(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, s.deps.Listing.SwitchToFullDataset(r.Context()))
}

func (s *Server) listingReset(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, s.deps.Listing.Reset(r.Context()))
}

func decodeIDs(w http.ResponseWriter, r *http.Request) (idsRequest, bool) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

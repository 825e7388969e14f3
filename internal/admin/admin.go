// Package admin is the HTTP adapter of the admin control plane: source
// management, health and manual job triggers.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scheduler"
	"github.com/ppiankov/sentinel/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrInvalid marks a request the controller rejected as malformed
var ErrInvalid = errors.New("invalid request")

// SourcePatch carries the fields an operator may change. Nil means unchanged.
type SourcePatch struct {
	Name     *string
	Address  *string
	Enabled  *bool
	Interval *time.Duration
}

// Health is the admin view of the running pipeline
type Health struct {
	Status    string                `json:"status"`
	Providers []model.ProviderState `json:"-"`
	Jobs      []model.JobStatus     `json:"-"`
}

// Controller is what the HTTP layer drives
type Controller interface {
	ListSources(ctx context.Context) ([]model.SourceConfig, error)
	CreateSource(ctx context.Context, src model.SourceConfig) (model.SourceConfig, error)
	UpdateSource(ctx context.Context, id string, patch SourcePatch) (model.SourceConfig, error)
	// RemoveSource returns true when the source was only disabled because
	// content still references it
	RemoveSource(ctx context.Context, id string) (bool, error)
	Health(ctx context.Context) Health
	// RunJob triggers a job now; false means it was busy
	RunJob(id string) (bool, error)
}

type handler struct {
	ctrl  Controller
	token string
	log   *logrus.Entry
}

// NewHandler builds the admin router. An empty token disables auth.
func NewHandler(ctrl Controller, token string, log *logrus.Entry) http.Handler {
	h := &handler{ctrl: ctrl, token: token, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/health", h.liveness).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(h.authenticate)
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/sources", h.listSources).Methods(http.MethodGet)
	api.HandleFunc("/sources", h.createSource).Methods(http.MethodPost)
	api.HandleFunc("/sources/{id}", h.updateSource).Methods(http.MethodPatch)
	api.HandleFunc("/sources/{id}", h.removeSource).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/run", h.runJob).Methods(http.MethodPost)
	return router
}

// NewServer wraps the handler in an http.Server with sane timeouts
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type providerView struct {
	Provider            string `json:"provider"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

type jobView struct {
	ID                  string    `json:"id"`
	State               string    `json:"state"`
	Interval            string    `json:"interval"`
	LastRun             time.Time `json:"last_run"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	health := h.ctrl.Health(r.Context())

	providers := make([]providerView, 0, len(health.Providers))
	for _, p := range health.Providers {
		providers = append(providers, providerView{
			Provider:            p.Provider,
			State:               p.String(),
			ConsecutiveFailures: p.ConsecutiveFailures,
		})
	}
	jobs := make([]jobView, 0, len(health.Jobs))
	for _, j := range health.Jobs {
		jobs = append(jobs, jobView{
			ID:                  j.ID,
			State:               string(j.State),
			Interval:            j.Interval.String(),
			LastRun:             j.LastRun,
			LastError:           j.LastError,
			ConsecutiveFailures: j.ConsecutiveFailures,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    health.Status,
		"providers": providers,
		"jobs":      jobs,
	})
}

// sourceView renders intervals as duration strings
type sourceView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	Enabled   bool      `json:"enabled"`
	Interval  string    `json:"interval"`
	Cursor    string    `json:"cursor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewOf(s model.SourceConfig) sourceView {
	return sourceView{
		ID:        s.ID,
		Type:      string(s.Type),
		Address:   s.Address,
		Name:      s.Name,
		Enabled:   s.Enabled,
		Interval:  s.Interval.String(),
		Cursor:    s.Cursor,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (h *handler) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.ctrl.ListSources(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]sourceView, 0, len(sources))
	for _, s := range sources {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

type createRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Enabled  *bool  `json:"enabled"`
	Interval string `json:"interval"`
}

func (h *handler) createSource(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	typ, err := model.ParseSourceType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval %q", req.Interval))
		return
	}

	src := model.SourceConfig{
		ID:       req.ID,
		Type:     typ,
		Address:  req.Address,
		Name:     req.Name,
		Enabled:  req.Enabled == nil || *req.Enabled,
		Interval: interval,
	}
	created, err := h.ctrl.CreateSource(r.Context(), src)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(created))
}

type patchRequest struct {
	Name     *string `json:"name"`
	Address  *string `json:"address"`
	Enabled  *bool   `json:"enabled"`
	Interval *string `json:"interval"`
}

func (h *handler) updateSource(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	patch := SourcePatch{Name: req.Name, Address: req.Address, Enabled: req.Enabled}
	if req.Interval != nil {
		d, err := time.ParseDuration(*req.Interval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval %q", *req.Interval))
			return
		}
		patch.Interval = &d
	}

	updated, err := h.ctrl.UpdateSource(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(updated))
}

func (h *handler) removeSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	disabled, err := h.ctrl.RemoveSource(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if disabled {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "removed": false, "disabled": true})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) runJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	triggered, err := h.ctrl.RunJob(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !triggered {
		writeJSON(w, http.StatusConflict, map[string]any{"id": id, "triggered": false, "reason": "job is not idle"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "triggered": true})
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error("Admin request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gridstone/gridstone/internal/schedule"
	"github.com/gridstone/gridstone/internal/store"
	"github.com/gridstone/gridstone/internal/timeline"
)

// Config holds the dependencies of a Server.
type Config struct {
	Store  *store.Store
	Runner *timeline.Runner
	Logger *slog.Logger

	// AnalyticsURL is the upstream root for the analytics proxy routes.
	// Nil disables them.
	AnalyticsURL *url.URL

	// AnalyticsTimeout bounds the wait for upstream response headers.
	// Zero means no limit.
	AnalyticsTimeout time.Duration
}

// Server is the HTTP API. Construct with New and mount Handler.
type Server struct {
	store  *store.Store
	runner *timeline.Runner
	logger *slog.Logger

	analytics *httputil.ReverseProxy
}

// New creates the server. Logger defaults to a discarding logger.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	runner := cfg.Runner
	if runner == nil {
		runner = timeline.NewRunner(cfg.Store)
	}

	s := &Server{
		store:  cfg.Store,
		runner: runner,
		logger: logger,
	}
	if cfg.AnalyticsURL != nil {
		s.analytics = &httputil.ReverseProxy{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.AnalyticsTimeout,
			},
			Rewrite: func(r *httputil.ProxyRequest) {
				r.SetURL(cfg.AnalyticsURL)
				r.SetXForwarded()
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				logger.Error("analytics upstream request failed", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusBadGateway, "analytics backend unavailable")
			},
		}
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/projects/{projectID}/items", s.handleCreateItem)
	mux.HandleFunc("GET /api/projects/{projectID}/items", s.handleListItems)
	mux.HandleFunc("GET /api/items/{id}", s.handleGetItem)
	mux.HandleFunc("PUT /api/items/{id}", s.handleUpdateItem)
	mux.HandleFunc("DELETE /api/items/{id}", s.handleDeleteItem)

	mux.HandleFunc("POST /api/projects/{projectID}/dependencies", s.handleCreateDependency)
	mux.HandleFunc("GET /api/projects/{projectID}/dependencies", s.handleListDependencies)
	mux.HandleFunc("DELETE /api/dependencies/{id}", s.handleDeleteDependency)

	mux.HandleFunc("POST /api/projects/{projectID}/timeline/resolve", s.handleResolveTimeline)

	if s.analytics != nil {
		mux.Handle("/analytics/", http.StripPrefix("/analytics", s.analytics))
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// itemPayload is the request body for item create/update.
type itemPayload struct {
	Name              string `json:"name"`
	Duration          int    `json:"duration"`
	TimingMode        string `json:"timingMode"`
	ManualStartPeriod int    `json:"manualStartPeriod"`
}

// itemResponse is the wire form of a schedule item.
type itemResponse struct {
	ID                    int64  `json:"id"`
	ProjectID             int64  `json:"projectId"`
	Name                  string `json:"name"`
	Duration              int    `json:"duration"`
	TimingMode            string `json:"timingMode"`
	ManualStartPeriod     int    `json:"manualStartPeriod"`
	CalculatedStartPeriod *int   `json:"calculatedStartPeriod"`
}

func toItemResponse(item *schedule.Item) itemResponse {
	return itemResponse{
		ID:                    item.ID,
		ProjectID:             item.ProjectID,
		Name:                  item.Name,
		Duration:              item.Duration,
		TimingMode:            string(item.TimingMode),
		ManualStartPeriod:     item.ManualStartPeriod,
		CalculatedStartPeriod: item.CalculatedStartPeriod,
	}
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var payload itemPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	mode, err := schedule.ParseTimingMode(payload.TimingMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := &schedule.Item{
		ProjectID:         projectID,
		Name:              payload.Name,
		Duration:          payload.Duration,
		TimingMode:        mode,
		ManualStartPeriod: payload.ManualStartPeriod,
	}
	id, err := s.store.CreateItem(r.Context(), item)
	if err != nil {
		s.storeError(w, err)
		return
	}
	item.ID = id
	s.logger.Info("schedule item created", "project_id", projectID, "item_id", id)
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	items, err := s.store.ListItems(r.Context(), projectID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload itemPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	mode, err := schedule.ParseTimingMode(payload.TimingMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.store.UpdateItem(r.Context(), &schedule.Item{
		ID:                id,
		Name:              payload.Name,
		Duration:          payload.Duration,
		TimingMode:        mode,
		ManualStartPeriod: payload.ManualStartPeriod,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteItem(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dependencyPayload is the request body for dependency creation.
type dependencyPayload struct {
	DependentItemID int64    `json:"dependentItemId"`
	TriggerItemID   *int64   `json:"triggerItemId"`
	TriggerEvent    string   `json:"triggerEvent"`
	TriggerValue    *float64 `json:"triggerValue"`
	OffsetPeriods   int      `json:"offsetPeriods"`
}

// dependencyResponse is the wire form of a dependency edge.
type dependencyResponse struct {
	ID              int64    `json:"id"`
	DependentItemID int64    `json:"dependentItemId"`
	TriggerItemID   *int64   `json:"triggerItemId"`
	TriggerEvent    string   `json:"triggerEvent"`
	TriggerValue    *float64 `json:"triggerValue"`
	OffsetPeriods   int      `json:"offsetPeriods"`
}

func toDependencyResponse(dep *schedule.Dependency) dependencyResponse {
	return dependencyResponse{
		ID:              dep.ID,
		DependentItemID: dep.DependentItemID,
		TriggerItemID:   dep.TriggerItemID,
		TriggerEvent:    string(dep.TriggerEvent),
		TriggerValue:    dep.TriggerValue,
		OffsetPeriods:   dep.OffsetPeriods,
	}
}

func (s *Server) handleCreateDependency(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var payload dependencyPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	event, err := schedule.ParseTriggerEvent(payload.TriggerEvent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dep := &schedule.Dependency{
		DependentItemID: payload.DependentItemID,
		TriggerItemID:   payload.TriggerItemID,
		TriggerEvent:    event,
		TriggerValue:    payload.TriggerValue,
		OffsetPeriods:   payload.OffsetPeriods,
	}
	if err := dep.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.CreateDependency(r.Context(), dep)
	if err != nil {
		s.storeError(w, err)
		return
	}
	dep.ID = id
	s.logger.Info("dependency created", "project_id", projectID, "dependency_id", id,
		"dependent_item_id", dep.DependentItemID, "trigger_event", dep.TriggerEvent)
	writeJSON(w, http.StatusCreated, toDependencyResponse(dep))
}

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	deps, err := s.store.ListDependencies(r.Context(), projectID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	resp := make([]dependencyResponse, 0, len(deps))
	for _, dep := range deps {
		resp = append(resp, toDependencyResponse(dep))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteDependency(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteDependency(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps store errors to HTTP status codes.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("store operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// pathID parses an integer path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, r.PathValue(name)))
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// decodeBodyBytes decodes an already-read JSON body, writing a 400 on failure.
func decodeBodyBytes(w http.ResponseWriter, body []byte, dst any) bool {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/taskyon/internal/config"
	"github.com/antoniostano/taskyon/internal/hostbridge"
	"github.com/antoniostano/taskyon/internal/observability"
	"github.com/antoniostano/taskyon/internal/tasks"
	"github.com/antoniostano/taskyon/internal/tools"
	"github.com/antoniostano/taskyon/internal/worker"
)

type Server struct {
	cfg        config.Config
	store      *tasks.TaskStore
	factory    *tasks.Factory
	registry   *tools.Registry
	controller *worker.Controller
	bridge     *hostbridge.Bridge
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(
	cfg config.Config,
	store *tasks.TaskStore,
	factory *tasks.Factory,
	registry *tools.Registry,
	controller *worker.Controller,
	bridge *hostbridge.Bridge,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		factory:    factory,
		registry:   registry,
		controller: controller,
		bridge:     bridge,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so arbitrary websites cannot drive the task
				// engine if it is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/tasks", s.handleCreateTask)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Delete("/v1/tasks/{id}", s.handleDeleteTask)
	r.Post("/v1/tasks/{id}/cancel", s.handleCancelTask)
	r.Get("/v1/tools", s.handleListTools)
	r.Get("/v1/bridge/ws", s.handleBridgeWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"tasks":          s.store.Count(),
		"host_connected": s.bridge != nil && s.bridge.Connected(),
	})
}

func (s *Server) handleBridgeWS(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		respondError(w, http.StatusNotImplemented, "bridge_disabled", "Host bridge is disabled.")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.bridge.HandleConn(r.Context(), conn)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

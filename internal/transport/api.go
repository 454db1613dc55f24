package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/vk/mellongo/internal/node"
	"github.com/vk/mellongo/internal/registry"
	"github.com/vk/mellongo/internal/scheduler"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	EnqueueGraphRun(req *scheduler.GraphRequest) error
	EnqueueSingleNodeRun(req *scheduler.SingleRequest) error
	ClearNodeCache(ctx context.Context, ids ...string) ([]string, error)
	Node(id string) (*node.Instance, bool)
}

// API serves the HTTP endpoints.
type API struct {
	sched    Scheduler
	registry *registry.Registry
	logger   *slog.Logger
}

// NewAPI creates the HTTP API.
func NewAPI(sched Scheduler, reg *registry.Registry, logger *slog.Logger) *API {
	return &API{sched: sched, registry: reg, logger: logger}
}

// Routes registers every endpoint on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /graph", a.graph)
	mux.HandleFunc("POST /nodeExecute", a.nodeExecute)
	mux.HandleFunc("DELETE /clearNodeCache", a.clearNodeCache)
	mux.HandleFunc("GET /nodes", a.nodes)
	mux.HandleFunc("GET /view/{format}/{node}/{key}/{index}", a.view)
	mux.HandleFunc("GET /health", a.health)
}

func (a *API) graph(w http.ResponseWriter, r *http.Request) {
	var req scheduler.GraphRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" {
		a.fail(w, http.StatusBadRequest, errors.New("missing sid"))
		return
	}
	if err := a.sched.EnqueueGraphRun(&req); err != nil {
		a.fail(w, enqueueStatus(err), err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"type": "graphQueued", "sid": req.SessionID})
}

func (a *API) nodeExecute(w http.ResponseWriter, r *http.Request) {
	var req scheduler.SingleRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" || req.Module == "" || req.Action == "" {
		a.fail(w, http.StatusBadRequest, errors.New("sid, module and action are required"))
		return
	}
	if err := a.sched.EnqueueSingleNodeRun(&req); err != nil {
		a.fail(w, enqueueStatus(err), err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"type": "nodeQueued", "sid": req.SessionID})
}

func (a *API) clearNodeCache(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID any `json:"nodeId"`
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := sonic.Unmarshal(raw, &body); err != nil {
			a.fail(w, http.StatusBadRequest, err)
			return
		}
	}

	var ids []string
	switch v := body.NodeID.(type) {
	case string:
		ids = []string{v}
	case []any:
		for _, id := range v {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
	}

	cleared, err := a.sched.ClearNodeCache(r.Context(), ids...)
	if err != nil {
		a.logger.Warn("Some node resources could not be released.", "error", err)
	}
	if cleared == nil {
		cleared = []string{}
	}
	a.respond(w, http.StatusOK, map[string]any{"type": "cacheCleared", "nodeId": cleared})
}

func (a *API) nodes(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, a.registry.Describe())
}

// health logs the hit and reports liveness.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK\n")
}

func decode(r *http.Request, v any) error {
	return sonic.ConfigDefault.NewDecoder(r.Body).Decode(v)
}

func (a *API) respond(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		a.logger.Error("Failed to encode response.", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (a *API) fail(w http.ResponseWriter, status int, err error) {
	a.logger.Debug("Request rejected.", "status", status, "error", err)
	a.respond(w, status, map[string]any{"type": "error", "error": err.Error()})
}

func enqueueStatus(err error) int {
	if errors.Is(err, scheduler.ErrQueueFull) || errors.Is(err, scheduler.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// Package api exposes the admin HTTP surface and the live event-tail
// websocket operators use to inspect and nudge a running runtime: backlog
// and DLQ inspection, health, manual reclaim, and a streaming tail of a
// project's main partition.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/cascadeflow/workbus/pkg/envelope"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/logstore"
	"github.com/cascadeflow/workbus/pkg/telemetry"
	"github.com/cascadeflow/workbus/pkg/workflow"
)

// Server wires the admin API to a running bus/store and the in-memory
// workflow states the reporting service maintains per project.
type Server struct {
	store  logstore.Store
	bus    *eventbus.Bus
	log    *telemetry.Logger
	states func(project string) *workflow.ProjectState

	upgrader websocket.Upgrader
}

// New constructs a Server. statesFn resolves a project id to its
// workflow.ProjectState (a nil return is treated as "no items tracked
// yet", not an error).
func New(store logstore.Store, bus *eventbus.Bus, log *telemetry.Logger, statesFn func(project string) *workflow.ProjectState) *Server {
	if log == nil {
		log = telemetry.Nop
	}
	return &Server{
		store:  store,
		bus:    bus,
		log:    log,
		states: statesFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the mux.Router exposing every admin endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/backlog", s.handleBacklog).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/dlq", s.handleDLQ).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/reclaim", s.handleReclaim).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/events:tail", s.handleEventsTail).Methods(http.MethodGet)
	return withRequestLogging(s.log, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	state := s.states(project)
	if state == nil {
		writeJSON(w, http.StatusOK, map[string]any{"project_id": project, "backlog": map[string]any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": project, "backlog": state.Snapshot()})
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	entries, err := s.store.Read(r.Context(), envelope.DeadLetter(project), "", 0)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "logstore_unavailable"})
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"message_id": e.MessageID,
			"envelope":   e.Fields["envelope"],
			"error":      e.Fields["error"],
			"attempt":    e.Fields["attempt"],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": project, "entries": out})
}

type reclaimRequest struct {
	Group     string `json:"group"`
	Consumer  string `json:"consumer"`
	MinIdleMS int64  `json:"min_idle_ms"`
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	var in reclaimRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_json"})
		return
	}
	if in.Group == "" || in.Consumer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "group_and_consumer_required"})
		return
	}
	if in.MinIdleMS <= 0 {
		in.MinIdleMS = 1000
	}

	ctx := r.Context()
	partition := envelope.StreamName(project)
	pending, err := s.store.PendingRange(ctx, partition, in.Group, 100, "")
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "logstore_unavailable"})
		return
	}
	var ids []string
	for _, p := range pending {
		if p.IdleMS >= in.MinIdleMS {
			ids = append(ids, p.MessageID)
		}
	}
	claimed, err := s.store.Claim(ctx, partition, in.Group, in.Consumer, in.MinIdleMS, ids)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "logstore_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": project, "reclaimed": len(claimed)})
}

// handleEventsTail upgrades to a websocket and streams newly-appended
// main-partition entries for project as they are read, polling the
// store rather than assuming it can push.
func (s *Server) handleEventsTail(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", map[string]any{"project": project, "error": err.Error()})
		return
	}
	defer conn.Close()

	partition := envelope.StreamName(project)
	ctx := r.Context()
	lastID := ""
	if q := r.URL.Query().Get("since"); q != "" {
		lastID = q
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := s.store.Read(ctx, partition, lastID, 0)
			if err != nil {
				return
			}
			for _, e := range entries {
				msg := map[string]any{"message_id": e.MessageID, "envelope": e.Fields["envelope"]}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				lastID = e.MessageID
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withRequestLogging(log *telemetry.Logger, router *mux.Router) *mux.Router {
	router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			h.ServeHTTP(rec, r)
			log.Info("request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      strconv.Itoa(rec.status),
				"duration_ms": fmt.Sprintf("%d", time.Since(start).Milliseconds()),
			})
		})
	})
	return router
}

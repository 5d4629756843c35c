package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/applicationaccess/core/internal/accessmanager"
	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/events"
	"github.com/applicationaccess/core/internal/tripswitch"
)

// Server wires the AccessManager read path and the PersisterBuffer write
// path to gorilla/mux routes, the way the teacher's cmd/kernel/main.go
// wires its kernel to a mux.Router.
type Server struct {
	manager *accessmanager.Concurrent
	writer  *events.PersisterBuffer
	trip    *tripswitch.Switch
	jwt     *JWTMiddleware
	logger  *zap.Logger
}

// NewServer builds the HTTP boundary over manager (reads), writer (the
// dependency-free write path), and trip (the process-wide failure latch).
func NewServer(manager *accessmanager.Concurrent, writer *events.PersisterBuffer, trip *tripswitch.Switch, jwt *JWTMiddleware, logger *zap.Logger) *Server {
	return &Server{manager: manager, writer: writer, trip: trip, jwt: jwt, logger: logger}
}

// Router builds the mux.Router exposing spec.md §6's endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/users/{user}/hasAccess", s.handleHasAccess).Methods(http.MethodGet)
	r.HandleFunc("/users/{user}/entities/{type}", s.handleAccessibleEntities).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handlePostEvents).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.jwt.RequireAdmin)
	admin.HandleFunc("/trip-switch/reset", s.handleTripSwitchReset).Methods(http.MethodPost)

	r.Use(s.tripSwitchGate)
	return r
}

// tripSwitchGate rejects every mutating request with 503 once the trip
// switch has engaged (spec.md §6: "on the trip-switch tripping, all
// mutating endpoints return HTTP 503 until operator reset"). The admin
// reset endpoint is let through so the operator reset can be made.
func (s *Server) tripSwitchGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.URL.Path != "/admin/trip-switch/reset" && s.trip.Tripped() {
			writeError(w, apperrors.New(apperrors.KindServiceUnavailable, "trip switch engaged; awaiting operator reset"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHasAccess(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	component := accessmanager.ApplicationComponent(r.URL.Query().Get("component"))
	level := accessmanager.AccessLevel(r.URL.Query().Get("level"))

	ok, err := s.manager.HasAccessToApplicationComponent(user, component, level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasAccess": ok})
}

func (s *Server) handleAccessibleEntities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := vars["user"]
	entityType := accessmanager.EntityType(vars["type"])

	entities, err := s.manager.GetAccessibleEntities(user, entityType)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]string, 0, len(entities))
	for e := range entities {
		out = append(out, string(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

// eventRequest is one element of the POST /events batch: kind names which
// of the ten Payload variants to decode payload as (events.ParseKind is
// String's inverse).
type eventRequest struct {
	Action  string          `json:"action"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handlePostEvents(w http.ResponseWriter, r *http.Request) {
	var reqs []eventRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindInvalidParameter, err, "malformed request body"))
		return
	}

	accepted := 0
	for _, req := range reqs {
		kind, err := events.ParseKind(req.Kind)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.KindInvalidEvent, err, "unrecognized event kind %q", req.Kind))
			return
		}
		payload, err := events.DecodePayload(kind, req.Payload)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.KindInvalidEvent, err, "malformed payload for kind %q", req.Kind))
			return
		}
		if err := s.writer.BufferEvent(events.Action(req.Action), payload); err != nil {
			writeError(w, err)
			return
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "healthy", "time": time.Now().UTC()}
	if s.trip.Tripped() {
		status = http.StatusServiceUnavailable
		body["status"] = "trip-switch-engaged"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"eventsBuffered": s.writer.GetEventProcessingCount(),
		"tripped":        s.trip.Tripped(),
	})
}

func (s *Server) handleTripSwitchReset(w http.ResponseWriter, r *http.Request) {
	s.trip.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ae, ok := err.(*apperrors.Error); ok {
		status = apperrors.HTTPStatus(ae.Kind)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

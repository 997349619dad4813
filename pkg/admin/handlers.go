package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/wishmock/wishmock/pkg/httputil"
	"github.com/wishmock/wishmock/pkg/metrics"
	"github.com/wishmock/wishmock/pkg/rules"
	"github.com/wishmock/wishmock/pkg/schema"
)

// statusResponse is the GET /admin/status payload.
type statusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	BuiltAt    time.Time `json:"built_at"`
	Methods    int       `json:"methods"`
	RuleKeys   int       `json:"rule_keys"`
	Orphans    []string  `json:"orphan_rule_keys,omitempty"`
	ProtoFiles []schema.FileStatus `json:"proto_files"`
	RuleFiles  []rules.FileStatus  `json:"rule_files"`

	Validation validationStatus `json:"validation"`
}

type validationStatus struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Types   int    `json:"constrained_types"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness reports ready once the first world has been built.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.engine.World() == nil {
		httputil.WriteServiceUnavailable(w, "not_ready", "no schema loaded yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	world := s.engine.World()
	if world == nil {
		httputil.WriteServiceUnavailable(w, "not_ready", "no schema loaded yet")
		return
	}

	resp := statusResponse{
		Status:     "ok",
		Version:    s.version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		BuiltAt:    world.BuiltAt,
		Methods:    world.Schema.MethodCount(),
		RuleKeys:   world.Rules.Len(),
		Orphans:    world.Orphans,
		ProtoFiles: world.ProtoStatus,
		RuleFiles:  world.RuleStatus,
		Validation: validationStatus{Enabled: s.cfg.ValidationEnabled},
	}
	if world.Validator != nil {
		resp.Validation.Source = world.Validator.Source()
		resp.Validation.Mode = s.cfg.ValidationMode
		resp.Validation.Types = world.Validator.ConstrainedTypes()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	world := s.engine.World()
	if world == nil {
		httputil.WriteServiceUnavailable(w, "not_ready", "no schema loaded yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"services": world.Schema.ListServices(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	world := s.engine.World()
	if world == nil {
		httputil.WriteServiceUnavailable(w, "not_ready", "no schema loaded yet")
		return
	}

	typeName := r.PathValue("type")
	view, err := world.Schema.SchemaOf(typeName)
	if err != nil {
		if errors.Is(err, schema.ErrTypeNotFound) {
			httputil.WriteNotFound(w, "type_not_found", err.Error())
			return
		}
		httputil.WriteInternalError(w, "schema_error", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := []metrics.Event{}
	if metrics.Events != nil {
		events = metrics.Events.Snapshot()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleReload rebuilds the world from the proto and rule directories. A
// rejected rebuild leaves the previous world serving.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Rebuild(r.Context()); err != nil {
		s.log.Warn("reload rejected", "error", err)
		httputil.WriteError(w, http.StatusConflict, "reload_rejected", err.Error())
		return
	}

	world := s.engine.World()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "reloaded",
		"methods":   world.Schema.MethodCount(),
		"rule_keys": world.Rules.Len(),
		"built_at":  world.BuiltAt,
	})
}

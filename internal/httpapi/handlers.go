package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kingrea/orchestra/internal/bootstrap"
	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/definition"
)

type healthResponse struct {
	Status        string `json:"status"`
	Engine        string `json:"engine"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type definitionSummary struct {
	ID      string   `json:"id"`
	Version string   `json:"version"`
	Name    string   `json:"name,omitempty"`
	Nodes   int      `json:"nodes"`
	Classes []string `json:"classes,omitempty"`
}

func summarize(def *definition.ProcessDefinition) definitionSummary {
	return definitionSummary{
		ID:      def.ID,
		Version: def.Version,
		Name:    def.Name,
		Nodes:   len(def.Nodes),
		Classes: def.Classes(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.services.State()
	code := http.StatusOK
	if state == bootstrap.StateFailed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:        string(s.Status()),
		Engine:        string(state),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	repo, err := s.services.RepositoryQueryService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defs := repo.List()
	out := make([]definitionSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, summarize(def))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	repo, err := s.services.RepositoryQueryService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	def, err := repo.Find(mux.Vars(r)["id"], r.URL.Query().Get("version"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	vars, ok := s.readVars(w, r)
	if !ok {
		return
	}
	cmd, err := s.services.ProcessCommandService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	inst, err := cmd.Start(r.Context(), mux.Vars(r)["definition"], r.URL.Query().Get("version"), vars)
	if err != nil && inst == nil {
		s.writeError(w, err)
		return
	}
	if err != nil {
		s.logger.WithField("instance", inst.ID).WithError(err).Warn("process instance failed")
		writeJSON(w, http.StatusUnprocessableEntity, inst)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	query, err := s.services.ProcessQueryService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, query.List())
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	query, err := s.services.ProcessQueryService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	inst, err := query.Find(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.services.ProcessCommandService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := cmd.Abort(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	query, err := s.services.ExecutionQueryService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	var execs []*engine.Execution
	if activeOnly {
		execs, err = query.FindActive(id)
	} else {
		execs, err = query.List(id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if execs == nil {
		execs = []*engine.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	vars, ok := s.readVars(w, r)
	if !ok {
		return
	}
	cmd, err := s.services.ExecutionCommandService(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	inst, err := cmd.Signal(r.Context(), mux.Vars(r)["id"], vars)
	if err != nil && inst == nil {
		s.writeError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, inst)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// readVars decodes an optional JSON object body.
func (s *Server) readVars(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	if r.Body == nil {
		return nil, true
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return nil, false
	}
	if len(body) == 0 {
		return nil, true
	}
	var vars map[string]any
	if err := json.Unmarshal(body, &vars); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON object"})
		return nil, false
	}
	return vars, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		cfgErr  *bootstrap.ConfigError
		initErr *bootstrap.InitError
	)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrNotActive):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &cfgErr), errors.As(err, &initErr), errors.Is(err, engine.ErrNotInitialized):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		s.logger.WithError(err).Error("httpapi: request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

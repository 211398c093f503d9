package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/application/command"
	"github.com/cubetribe/klassenbuch-server/internal/application/query"
	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// maxBodyBytes bounds request bodies. The largest legitimate payload is a
// quick action with 50 student IDs.
const maxBodyBytes = 64 << 10

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// callerIdentity reads the authenticated identity forwarded by the
// auth proxy in X-User-ID and X-User-Role. The proxy terminates the
// session; this service only trusts its headers.
func callerIdentity(r *http.Request) (shared.Identity, error) {
	rawID := r.Header.Get("X-User-ID")
	if rawID == "" {
		return shared.Identity{}, shared.WrapError("http", "Authenticate", shared.ErrUnauthorized, "missing X-User-ID header", nil)
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return shared.Identity{}, shared.WrapError("http", "Authenticate", shared.ErrUnauthorized, "malformed X-User-ID header", err)
	}

	role := shared.Role(r.Header.Get("X-User-Role"))
	if !role.Valid() {
		return shared.Identity{}, shared.WrapError("http", "Authenticate", shared.ErrUnauthorized, "missing or unknown X-User-Role header", nil)
	}

	return shared.Identity{UserID: userID, Role: role}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns overall health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.deps.HealthCheckers))
	healthy := true

	for name, checker := range s.deps.HealthCheckers {
		if err := checker.Ping(r.Context()); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    overall,
		"checks":    checks,
		"uptime":    s.Uptime().String(),
		"timestamp": time.Now().UTC(),
	})
}

// handleReady returns readiness: all downstream dependencies reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for name, checker := range s.deps.HealthCheckers {
		if err := checker.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed",
				logger.String("dependency", name),
				logger.Err(err),
			)
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "dependency unavailable: "+name)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive returns liveness: the process is up.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// BOARD & STREAM HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetBoard returns the full board snapshot for a course.
func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	if _, err := callerIdentity(r); err != nil {
		s.writeError(w, r, err)
		return
	}

	snapshot, err := s.deps.BoardSnapshot.Handle(r.Context(), query.GetBoardSnapshotQuery{
		CourseID:  r.PathValue("id"),
		SkipCache: r.URL.Query().Get("fresh") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleStream upgrades the request to a server-sent event stream for
// the course. The connection stays open until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	courseID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, shared.WrapError("http", "Stream", shared.ErrInvalidID, "malformed course id", err))
		return
	}

	s.deps.Stream.Serve(w, r, courseID, caller.UserID)
}

// handleGetHistory returns the behavior event history for a student.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := callerIdentity(r); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := query.GetStudentHistoryQuery{
		StudentID: r.PathValue("id"),
		Limit:     getQueryParamInt(r, "limit", 0),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, shared.WrapError("http", "History", shared.ErrInvalidFormat, "from must be RFC 3339", err))
			return
		}
		q.From = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, shared.WrapError("http", "History", shared.ErrInvalidFormat, "to must be RFC 3339", err))
			return
		}
		q.To = t
	}
	if kinds, ok := r.URL.Query()["kind"]; ok {
		q.Kinds = kinds
	}

	history, err := s.deps.StudentHistory.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR ACTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type recordBehaviorRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid4"`
	Delta     int    `json:"delta" validate:"required,ne=0"`
	Notes     string `json:"notes" validate:"max=500"`
}

// handleRecordBehavior applies one XP change to one student.
func (s *Server) handleRecordBehavior(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req recordBehaviorRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.RecordBehavior.Handle(r.Context(), command.RecordBehaviorCommand{
		CourseID:  r.PathValue("id"),
		StudentID: req.StudentID,
		Delta:     req.Delta,
		Notes:     req.Notes,
		Caller:    caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type quickActionRequest struct {
	StudentIDs []string `json:"studentIds" validate:"required,min=1,max=50,dive,uuid4"`
	Delta      int      `json:"delta" validate:"required,ne=0"`
	Notes      string   `json:"notes" validate:"max=500"`
}

// handleQuickAction applies one XP delta to a batch of students.
func (s *Server) handleQuickAction(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req quickActionRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.QuickAction.Handle(r.Context(), command.ApplyQuickActionCommand{
		CourseID:   r.PathValue("id"),
		StudentIDs: req.StudentIDs,
		Delta:      req.Delta,
		Notes:      req.Notes,
		Caller:     caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type redeemRewardRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid4"`
	RewardID  string `json:"rewardId" validate:"required"`
	CostXP    int    `json:"costXp" validate:"required,gt=0"`
}

// handleRedeemReward deducts a reward's cost from a student's XP.
func (s *Server) handleRedeemReward(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req redeemRewardRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.RedeemReward.Handle(r.Context(), command.RedeemRewardCommand{
		CourseID:  r.PathValue("id"),
		StudentID: req.StudentID,
		RewardID:  req.RewardID,
		CostXP:    req.CostXP,
		Caller:    caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type applyConsequenceRequest struct {
	StudentID     string `json:"studentId" validate:"required,uuid4"`
	ConsequenceID string `json:"consequenceId" validate:"required"`
	PenaltyXP     int    `json:"penaltyXp" validate:"required,gt=0"`
	Notes         string `json:"notes" validate:"max=500"`
}

// handleApplyConsequence deducts a consequence penalty, flooring at zero.
func (s *Server) handleApplyConsequence(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req applyConsequenceRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Consequence.Handle(r.Context(), command.ApplyConsequenceCommand{
		CourseID:      r.PathValue("id"),
		StudentID:     req.StudentID,
		ConsequenceID: req.ConsequenceID,
		PenaltyXP:     req.PenaltyXP,
		Notes:         req.Notes,
		Caller:        caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type overrideColorRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid4"`
	Color     string `json:"color" validate:"required,oneof=BLUE GREEN YELLOW RED"`
	Notes     string `json:"notes" validate:"max=500"`
}

// handleOverrideColor sets a student's color manually.
func (s *Server) handleOverrideColor(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req overrideColorRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.OverrideColor.Handle(r.Context(), command.OverrideColorCommand{
		CourseID:  r.PathValue("id"),
		StudentID: req.StudentID,
		Color:     req.Color,
		Notes:     req.Notes,
		Caller:    caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type adjustLevelRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid4"`
	Delta     int    `json:"delta" validate:"required,ne=0"`
}

// handleAdjustLevel changes a student's level manually.
func (s *Server) handleAdjustLevel(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req adjustLevelRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.AdjustLevel.Handle(r.Context(), command.AdjustLevelCommand{
		CourseID:  r.PathValue("id"),
		StudentID: req.StudentID,
		Delta:     req.Delta,
		Caller:    caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleUpdateSettings replaces a course's settings document. The body is
// the full settings JSON; the domain validates it before anything persists.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	caller, err := callerIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var settings course.Settings
	if err := s.decodeBody(w, r, &settings); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.UpdateSettings.Handle(r.Context(), command.UpdateCourseSettingsCommand{
		CourseID: r.PathValue("id"),
		Settings: settings,
		Caller:   caller,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DECODING & ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes and validates a JSON request body.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.WrapError("http", "Decode", shared.ErrEmptyValue, "request body is required", err)
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidFormat, "malformed JSON body", err)
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return shared.WrapError("http", "Validate", shared.ErrValidation, "invalid field: "+verrs[0].Field(), err)
		}
		return shared.WrapError("http", "Validate", shared.ErrValidation, "invalid request body", err)
	}
	return nil
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *shared.DomainError
	message := "request failed"
	if errors.As(err, &de) {
		message = de.Message
	}

	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", message)
	case shared.IsForbidden(err):
		if errors.Is(err, shared.ErrUnauthorized) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", message)
			return
		}
		writeJSONError(w, http.StatusForbidden, "forbidden", message)
	case errors.Is(err, shared.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, "invalid_state", message)
	case shared.IsValidation(err), errors.Is(err, shared.ErrInvalidFormat):
		writeJSONError(w, http.StatusBadRequest, "validation_failed", message)
	default:
		s.logger.Error("request handler failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}

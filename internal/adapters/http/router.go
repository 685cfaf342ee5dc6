package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/application"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"
)

type contextKey string

const identityKey contextKey = "identity"

var (
	errInvalidID     = errors.New("id must be a positive number")
	errInvalidStatus = errors.New("status must be in_progress, finalized or cancelled")
	errInvalidTime   = errors.New("timestamps must be RFC 3339")
)

// EventStream is the subscription side of the broker, consumed by the SSE
// endpoint.
type EventStream interface {
	Subscribe(topic string) (<-chan domain.Event, func())
}

type Handler struct {
	service *application.PatrolService
	stream  EventStream
}

func NewRouter(service *application.PatrolService, stream EventStream) http.Handler {
	h := &Handler{service: service, stream: stream}
	r := chi.NewRouter()

	r.Route("/api", func(api chi.Router) {
		api.With(h.requireAuth()).Get("/auth/whoami", h.handleWhoAmI)

		api.With(h.requireAuth()).Post("/patrols/start", h.handleStartPatrol)
		api.With(h.requireAuth()).Get("/patrols/active", h.handleActivePatrol)
		api.With(h.requireAuth()).Get("/patrols/history", h.handlePatrolHistory)
		api.With(h.requireAuth()).Get("/patrols/{id}", h.handlePatrolDetail)
		api.With(h.requireAuth()).Post("/patrols/{id}/track", h.handleTrack)
		api.With(h.requireAuth()).Post("/patrols/{id}/checkpoints", h.handleCheckpoint)
		api.With(h.requireAuth()).Post("/patrols/{id}/finalize", h.handleFinalize)
		api.With(h.requireAuth()).Post("/patrols/{id}/cancel", h.handleCancel)

		api.With(h.requireAuth()).Get("/control-points", h.handleListControlPoints)
		api.With(h.requireAuth()).Get("/control-points/{id}/proximity", h.handleProximity)

		api.With(h.requireOperator()).Get("/admin/sessions", h.handleAdminSessions)
		api.With(h.requireOperator()).Get("/admin/audit", h.handleAdminAudit)
		api.With(h.requireOperator()).Get("/events", h.handleEvents)
	})

	return r
}

func (h *Handler) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) requireOperator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if !identity.Operator {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) authenticateRequest(r *http.Request) (domain.Identity, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[7:])
		identity, err := h.service.Authenticate(r.Context(), token)
		if err == nil {
			return identity, true
		}
	}
	return domain.Identity{}, false
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	value := ctx.Value(identityKey)
	if value == nil {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type startPatrolRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Notes     string  `json:"notes"`
}

func (h *Handler) handleStartPatrol(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req startPatrolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	session, err := h.service.StartSession(r.Context(), identity.GuardID, domain.Position{Latitude: req.Latitude, Longitude: req.Longitude}, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleActivePatrol(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	session, err := h.service.ActiveSession(r.Context(), identity.GuardID)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "session": session})
}

func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req application.TrackInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	sample, err := h.service.AppendSample(r.Context(), identity.GuardID, sessionID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

func (h *Handler) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req application.CheckpointInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	visit, err := h.service.RecordCheckpoint(r.Context(), identity.GuardID, sessionID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req application.FinalizeInput
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	session, err := h.service.FinalizeSession(r.Context(), identity.GuardID, sessionID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	session, err := h.service.CancelSession(r.Context(), identity.GuardID, sessionID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handlePatrolHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	filter, err := sessionFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	page, err := h.service.SessionHistory(r.Context(), identity, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handlePatrolDetail(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	detail, err := h.service.SessionDetail(r.Context(), identity, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleListControlPoints(w http.ResponseWriter, r *http.Request) {
	filter := domain.ControlPointFilter{
		OnlyActive: r.URL.Query().Get("all") == "",
		Query:      r.URL.Query().Get("q"),
	}
	points, err := h.service.ListControlPoints(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) handleProximity(w http.ResponseWriter, r *http.Request) {
	pointID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	lat, err := strconv.ParseFloat(r.URL.Query().Get("latitude"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "latitude must be a number"})
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("longitude"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "longitude must be a number"})
		return
	}
	check, err := h.service.ValidateProximity(r.Context(), pointID, domain.Position{Latitude: lat, Longitude: lon})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handler) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	filter.GuardID = r.URL.Query().Get("guard_id")
	page, err := h.service.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{GuardID: q.Get("guard_id")}
	if raw := strings.TrimSpace(q.Get("session_id")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid session_id"})
			return
		}
		v := uint(parsed)
		filter.SessionID = &v
	}
	if raw := strings.TrimSpace(q.Get("event")); raw != "" {
		et := domain.EventType(raw)
		filter.EventType = &et
	}
	filter.Limit, filter.Offset = pageFromQuery(r)
	page, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleEvents streams patrol events to the monitoring dashboard. Each event
// lands as a signal patch so the client keeps only the latest state.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event stream disabled"})
		return
	}
	events, cancel := h.stream.Subscribe(application.TopicPatrol)
	defer cancel()

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(map[string]any{"lastEvent": event})
			if err != nil {
				continue
			}
			if err := sse.PatchSignals(body); err != nil {
				return
			}
		}
	}
}

func sessionFilterFromQuery(r *http.Request) (domain.SessionFilter, error) {
	q := r.URL.Query()
	filter := domain.SessionFilter{}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.SessionStatus(raw)
		switch status {
		case domain.SessionInProgress, domain.SessionFinalized, domain.SessionCancelled:
			filter.Status = &status
		default:
			return filter, errInvalidStatus
		}
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidTime
		}
		filter.From = &t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidTime
		}
		filter.To = &t
	}
	filter.Limit, filter.Offset = pageFromQuery(r)
	return filter, nil
}

func pageFromQuery(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}

// decodeBody tolerates an absent request body. Used by endpoints whose
// fields are all optional; a bare POST means "use the defaults".
func decodeBody(r *http.Request, out any) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidID
	}
	return uint(parsed), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeConflict:
		status = http.StatusConflict
	case domain.CodeState:
		status = http.StatusUnprocessableEntity
	case domain.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": string(domain.CodeOf(err))})
}

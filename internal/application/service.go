package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TopicPatrol is the broker topic every patrol event is published on.
const TopicPatrol = "patrol"

type PatrolService struct {
	repo      domain.PatrolRepository
	points    domain.ControlPointRegistry
	store     domain.ControlPointStore
	publisher domain.EventPublisher
	log       zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	guardLocks map[string]*sync.Mutex
}

type TrackInput struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	Altitude   *float64   `json:"altitude,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type CheckpointInput struct {
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	ControlPointID *uint      `json:"control_point_id,omitempty"`
	Description    string     `json:"description,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
}

type FinalizeInput struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

func NewPatrolService(repo domain.PatrolRepository, points domain.ControlPointRegistry, store domain.ControlPointStore, publisher domain.EventPublisher, log zerolog.Logger) *PatrolService {
	return &PatrolService{
		repo:       repo,
		points:     points,
		store:      store,
		publisher:  publisher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		guardLocks: make(map[string]*sync.Mutex),
	}
}

// guardLock serializes mutating operations per guard. Reads never take it.
func (s *PatrolService) guardLock(guardID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.guardLocks[guardID]
	if !ok {
		l = &sync.Mutex{}
		s.guardLocks[guardID] = l
	}
	return l
}

func (s *PatrolService) StartSession(ctx context.Context, guardID string, pos domain.Position, notes string) (domain.PatrolSession, error) {
	if strings.TrimSpace(guardID) == "" {
		return domain.PatrolSession{}, domain.Validationf("guard id is required")
	}
	if !domain.ValidCoordinate(pos.Latitude, pos.Longitude) {
		return domain.PatrolSession{}, domain.Validationf("invalid start coordinates (%v, %v)", pos.Latitude, pos.Longitude)
	}

	lock := s.guardLock(guardID)
	lock.Lock()
	defer lock.Unlock()

	// The partial unique index is the authority; the pre-check only gives a
	// friendlier error for the common case.
	if active, err := s.repo.ActiveSessionByGuard(ctx, guardID); err != nil {
		return domain.PatrolSession{}, err
	} else if active != nil {
		return domain.PatrolSession{}, domain.Conflictf("guard %s already has patrol %d in progress", guardID, active.ID)
	}

	session, err := s.repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        guardID,
		StartLatitude:  pos.Latitude,
		StartLongitude: pos.Longitude,
		Notes:          notes,
		StartedAt:      s.now(),
	})
	if err != nil {
		return domain.PatrolSession{}, err
	}

	s.audit(ctx, &session.ID, guardID, domain.EventStarted, map[string]any{
		"latitude":  pos.Latitude,
		"longitude": pos.Longitude,
	})
	s.publish("session:started", guardID, session.ID, session)
	s.log.Info().Str("guard_id", guardID).Uint("session_id", session.ID).Msg("patrol started")
	return session, nil
}

func (s *PatrolService) ActiveSession(ctx context.Context, guardID string) (*domain.PatrolSession, error) {
	if strings.TrimSpace(guardID) == "" {
		return nil, domain.Validationf("guard id is required")
	}
	return s.repo.ActiveSessionByGuard(ctx, guardID)
}

func (s *PatrolService) AppendSample(ctx context.Context, guardID string, sessionID uint, in TrackInput) (domain.PositionSample, error) {
	if !domain.ValidCoordinate(in.Latitude, in.Longitude) {
		return domain.PositionSample{}, domain.Validationf("invalid coordinates (%v, %v)", in.Latitude, in.Longitude)
	}

	lock := s.guardLock(guardID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.ownedInProgress(ctx, guardID, sessionID)
	if err != nil {
		return domain.PositionSample{}, err
	}

	recordedAt := s.now()
	if in.RecordedAt != nil {
		recordedAt = in.RecordedAt.UTC()
	}

	sample, err := s.repo.AppendSample(ctx, domain.PositionSample{
		SessionID:  session.ID,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Accuracy:   in.Accuracy,
		Altitude:   in.Altitude,
		Speed:      in.Speed,
		RecordedAt: recordedAt,
	})
	if err != nil {
		return domain.PositionSample{}, err
	}

	s.audit(ctx, &session.ID, guardID, domain.EventTrajectoryPoint, map[string]any{
		"latitude":  sample.Latitude,
		"longitude": sample.Longitude,
	})
	s.publish("trajectory:point", guardID, session.ID, sample)
	return sample, nil
}

func (s *PatrolService) RecordCheckpoint(ctx context.Context, guardID string, sessionID uint, in CheckpointInput) (domain.CheckpointVisit, error) {
	if !domain.ValidCoordinate(in.Latitude, in.Longitude) {
		return domain.CheckpointVisit{}, domain.Validationf("invalid coordinates (%v, %v)", in.Latitude, in.Longitude)
	}

	lock := s.guardLock(guardID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.ownedInProgress(ctx, guardID, sessionID)
	if err != nil {
		return domain.CheckpointVisit{}, err
	}

	visit := domain.CheckpointVisit{
		SessionID:   session.ID,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Description: in.Description,
		RecordedAt:  s.now(),
	}
	if in.RecordedAt != nil {
		visit.RecordedAt = in.RecordedAt.UTC()
	}

	// Geofence match is recorded, never enforced: the visit is kept either
	// way and the verdict travels with it.
	if in.ControlPointID != nil {
		point, err := s.points.Get(ctx, *in.ControlPointID)
		if err != nil {
			return domain.CheckpointVisit{}, err
		}
		if !point.Active {
			// A deactivated point is invisible to patrols, same as a missing
			// one.
			return domain.CheckpointVisit{}, domain.NotFoundf("control point %d not found", point.ID)
		}
		check := domain.CheckProximity(domain.Position{Latitude: in.Latitude, Longitude: in.Longitude}, point)
		visit.ControlPointID = &point.ID
		visit.DistanceToPoint = &check.DistanceMeters
		visit.WithinRadius = &check.Valid
	}

	previous, err := s.repo.LastVisit(ctx, session.ID)
	if err != nil {
		return domain.CheckpointVisit{}, err
	}
	since := session.StartedAt
	if previous != nil {
		since = previous.RecordedAt
	}
	if elapsed := visit.RecordedAt.Sub(since); elapsed > 0 {
		visit.ElapsedSincePrev = elapsed
	}

	visit, err = s.repo.CreateVisit(ctx, visit)
	if err != nil {
		return domain.CheckpointVisit{}, err
	}

	s.audit(ctx, &session.ID, guardID, domain.EventCheckpoint, map[string]any{
		"sequence_number":  visit.SequenceNumber,
		"control_point_id": visit.ControlPointID,
		"within_radius":    visit.WithinRadius,
		"distance":         visit.DistanceToPoint,
	})
	s.publish("checkpoint:recorded", guardID, session.ID, visit)
	return visit, nil
}

// ValidateProximity answers without recording anything.
func (s *PatrolService) ValidateProximity(ctx context.Context, pointID uint, pos domain.Position) (domain.ProximityCheck, error) {
	if !domain.ValidCoordinate(pos.Latitude, pos.Longitude) {
		return domain.ProximityCheck{}, domain.Validationf("invalid coordinates (%v, %v)", pos.Latitude, pos.Longitude)
	}
	point, err := s.points.Get(ctx, pointID)
	if err != nil {
		return domain.ProximityCheck{}, err
	}
	return domain.CheckProximity(pos, point), nil
}

// FinalizeSession closes a patrol and computes its aggregates. The end
// position is optional; when the device could not acquire one the session is
// still closed.
func (s *PatrolService) FinalizeSession(ctx context.Context, guardID string, sessionID uint, in FinalizeInput) (domain.PatrolSession, error) {
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return domain.PatrolSession{}, domain.Validationf("end latitude and longitude must be given together")
	}
	if in.Latitude != nil && !domain.ValidCoordinate(*in.Latitude, *in.Longitude) {
		return domain.PatrolSession{}, domain.Validationf("invalid end coordinates (%v, %v)", *in.Latitude, *in.Longitude)
	}

	lock := s.guardLock(guardID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.ownedInProgress(ctx, guardID, sessionID)
	if err != nil {
		return domain.PatrolSession{}, err
	}

	samples, err := s.repo.ListSamples(ctx, session.ID)
	if err != nil {
		return domain.PatrolSession{}, err
	}
	visits, err := s.repo.CountVisits(ctx, session.ID)
	if err != nil {
		return domain.PatrolSession{}, err
	}

	ended := s.now()
	session.Status = domain.SessionFinalized
	session.EndLatitude = in.Latitude
	session.EndLongitude = in.Longitude
	session.TotalDistance = domain.TrajectoryDistance(samples)
	session.CheckpointCount = int(visits)
	session.EndedAt = &ended
	if strings.TrimSpace(in.Notes) != "" {
		session.Notes = in.Notes
	}

	session, err = s.repo.CloseSession(ctx, session)
	if err != nil {
		return domain.PatrolSession{}, err
	}

	s.audit(ctx, &session.ID, guardID, domain.EventFinalized, map[string]any{
		"total_distance":   session.TotalDistance,
		"checkpoint_count": session.CheckpointCount,
		"sample_count":     len(samples),
	})
	s.publish("session:finalized", guardID, session.ID, session)
	s.log.Info().
		Str("guard_id", guardID).
		Uint("session_id", session.ID).
		Float64("total_distance", session.TotalDistance).
		Int("checkpoints", session.CheckpointCount).
		Msg("patrol finalized")
	return session, nil
}

func (s *PatrolService) CancelSession(ctx context.Context, guardID string, sessionID uint, reason string) (domain.PatrolSession, error) {
	lock := s.guardLock(guardID)
	lock.Lock()
	defer lock.Unlock()

	return s.cancelLocked(ctx, guardID, sessionID, reason)
}

func (s *PatrolService) cancelLocked(ctx context.Context, guardID string, sessionID uint, reason string) (domain.PatrolSession, error) {
	session, err := s.ownedInProgress(ctx, guardID, sessionID)
	if err != nil {
		return domain.PatrolSession{}, err
	}

	ended := s.now()
	session.Status = domain.SessionCancelled
	session.EndedAt = &ended
	if strings.TrimSpace(reason) != "" {
		session.Notes = reason
	}

	session, err = s.repo.CloseSession(ctx, session)
	if err != nil {
		return domain.PatrolSession{}, err
	}

	s.audit(ctx, &session.ID, guardID, domain.EventCancelled, map[string]any{"reason": reason})
	s.publish("session:cancelled", guardID, session.ID, session)
	s.log.Info().Str("guard_id", guardID).Uint("session_id", session.ID).Str("reason", reason).Msg("patrol cancelled")
	return session, nil
}

// ReapIdleSessions cancels in_progress sessions that saw no sample or visit
// since the cutoff. Returns how many were cancelled.
func (s *PatrolService) ReapIdleSessions(ctx context.Context, idleFor time.Duration) (int, error) {
	if idleFor <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-idleFor)
	idle, err := s.repo.ListIdleActiveSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reason := fmt.Sprintf("auto-cancelled after %s of inactivity", idleFor)
	reaped := 0
	for _, session := range idle {
		lock := s.guardLock(session.GuardID)
		lock.Lock()
		_, err := s.cancelLocked(ctx, session.GuardID, session.ID, reason)
		lock.Unlock()
		if err != nil {
			// A guard action may have closed it between the scan and the
			// cancel. Not an error for the sweep.
			if domain.IsCode(err, domain.CodeState) || domain.IsCode(err, domain.CodeNotFound) {
				continue
			}
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func (s *PatrolService) SessionHistory(ctx context.Context, identity domain.Identity, filter domain.SessionFilter) (domain.SessionPage, error) {
	if !identity.Operator {
		filter.GuardID = identity.GuardID
	}
	filter.Limit = clampLimit(filter.Limit, 50, 500)
	items, total, err := s.repo.ListSessions(ctx, filter)
	if err != nil {
		return domain.SessionPage{}, err
	}
	return domain.SessionPage{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *PatrolService) SessionDetail(ctx context.Context, identity domain.Identity, sessionID uint) (domain.SessionDetail, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionDetail{}, err
	}
	if !identity.Operator && session.GuardID != identity.GuardID {
		return domain.SessionDetail{}, domain.NotFoundf("patrol session %d not found", sessionID)
	}
	visits, err := s.repo.ListVisits(ctx, session.ID)
	if err != nil {
		return domain.SessionDetail{}, err
	}
	samples, err := s.repo.ListSamples(ctx, session.ID)
	if err != nil {
		return domain.SessionDetail{}, err
	}
	return domain.SessionDetail{Session: session, Checkpoints: visits, Trajectory: samples}, nil
}

func (s *PatrolService) ListSessions(ctx context.Context, filter domain.SessionFilter) (domain.SessionPage, error) {
	filter.Limit = clampLimit(filter.Limit, 50, 500)
	items, total, err := s.repo.ListSessions(ctx, filter)
	if err != nil {
		return domain.SessionPage{}, err
	}
	return domain.SessionPage{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *PatrolService) ListAudit(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error) {
	filter.Limit = clampLimit(filter.Limit, 100, 1000)
	items, total, err := s.repo.ListAudit(ctx, filter)
	if err != nil {
		return domain.AuditPage{}, err
	}
	return domain.AuditPage{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *PatrolService) ListControlPoints(ctx context.Context, filter domain.ControlPointFilter) ([]domain.ControlPoint, error) {
	filter.Limit = clampLimit(filter.Limit, 200, 2000)
	return s.points.List(ctx, filter)
}

// SyncControlPoints upserts the given registry snapshot. Used by the sync
// command, never by patrol operations.
func (s *PatrolService) SyncControlPoints(ctx context.Context, points []domain.ControlPoint) (int, error) {
	if s.store == nil {
		return 0, domain.Statef("control point sync is not enabled")
	}
	synced := 0
	for _, p := range points {
		if strings.TrimSpace(p.Name) == "" {
			return synced, domain.Validationf("control point name is required")
		}
		if !domain.ValidCoordinate(p.Latitude, p.Longitude) {
			return synced, domain.Validationf("control point %q has invalid coordinates", p.Name)
		}
		if p.RadiusMeters <= 0 {
			return synced, domain.Validationf("control point %q needs a positive radius", p.Name)
		}
		if _, err := s.store.UpsertByName(ctx, p); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

func (s *PatrolService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, domain.Validationf("token is required")
	}
	t, err := s.repo.ResolveToken(ctx, hashToken(token))
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{GuardID: t.GuardID, Name: t.Name, Operator: t.Operator}, nil
}

// EnrollGuard issues a bearer token for a guard. Only the sha256 of the
// token is stored; the plain value is returned once.
func (s *PatrolService) EnrollGuard(ctx context.Context, guardID, name string, operator bool) (string, error) {
	if strings.TrimSpace(guardID) == "" || strings.TrimSpace(name) == "" {
		return "", domain.Validationf("guard id and name are required")
	}
	plain, hash, err := newTokenPair()
	if err != nil {
		return "", domain.Persistencef(err, "generate token")
	}
	if _, err := s.repo.CreateToken(ctx, domain.GuardToken{
		GuardID:   guardID,
		Name:      name,
		Operator:  operator,
		TokenHash: hash,
	}); err != nil {
		return "", err
	}
	return plain, nil
}

// BootstrapOperator enrolls an initial operator when the token table is
// empty, so a fresh install can talk to its own API. Returns the plain token
// once, or "" when accounts already exist.
func (s *PatrolService) BootstrapOperator(ctx context.Context, guardID, name string) (string, error) {
	if strings.TrimSpace(guardID) == "" || strings.TrimSpace(name) == "" {
		return "", domain.Validationf("bootstrap guard id and name are required")
	}
	count, err := s.repo.CountTokens(ctx)
	if err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}
	return s.EnrollGuard(ctx, guardID, name, true)
}

// ownedInProgress loads a session and checks guard ownership and state.
// Callers hold the guard lock.
func (s *PatrolService) ownedInProgress(ctx context.Context, guardID string, sessionID uint) (domain.PatrolSession, error) {
	if sessionID == 0 {
		return domain.PatrolSession{}, domain.Validationf("session id is required")
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.PatrolSession{}, err
	}
	if session.GuardID != guardID {
		return domain.PatrolSession{}, domain.NotFoundf("patrol session %d not found", sessionID)
	}
	if session.Status.Terminal() {
		return domain.PatrolSession{}, domain.Statef("patrol session %d is already %s", sessionID, session.Status)
	}
	return session, nil
}

// audit is best-effort; a failed write is logged and never fails the
// triggering operation.
func (s *PatrolService) audit(ctx context.Context, sessionID *uint, guardID string, eventType domain.EventType, payload map[string]any) {
	body, _ := json.Marshal(payload)
	err := s.repo.AppendAudit(ctx, domain.AuditEntry{
		SessionID:  sessionID,
		GuardID:    guardID,
		EventType:  eventType,
		Payload:    string(body),
		RecordedAt: s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("guard_id", guardID).Str("event", string(eventType)).Msg("audit write failed")
	}
}

func (s *PatrolService) publish(eventType, guardID string, sessionID uint, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(TopicPatrol, domain.Event{
		ID:        uuid.NewString(),
		Topic:     TopicPatrol,
		Type:      eventType,
		GuardID:   guardID,
		SessionID: sessionID,
		Payload:   payload,
		EmittedAt: s.now(),
	})
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}

package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type PatrolRepository struct {
	db *gorm.DB
}

func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

func NewPatrolRepository(db *gorm.DB) *PatrolRepository {
	return &PatrolRepository{db: db}
}

func (r *PatrolRepository) CreateSession(ctx context.Context, value domain.PatrolSession) (domain.PatrolSession, error) {
	m := SessionModel{
		GuardID:        value.GuardID,
		Status:         string(domain.SessionInProgress),
		StartLatitude:  value.StartLatitude,
		StartLongitude: value.StartLongitude,
		Notes:          value.Notes,
		StartedAt:      value.StartedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.PatrolSession{}, domain.Conflictf("guard %s already has a patrol in progress", value.GuardID)
		}
		return domain.PatrolSession{}, domain.Persistencef(err, "create patrol session")
	}
	return sessionFromModel(m), nil
}

func (r *PatrolRepository) GetSession(ctx context.Context, id uint) (domain.PatrolSession, error) {
	var m SessionModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PatrolSession{}, domain.NotFoundf("patrol session %d not found", id)
		}
		return domain.PatrolSession{}, domain.Persistencef(err, "get patrol session")
	}
	return sessionFromModel(m), nil
}

func (r *PatrolRepository) ActiveSessionByGuard(ctx context.Context, guardID string) (*domain.PatrolSession, error) {
	var m SessionModel
	err := r.db.WithContext(ctx).
		Where("guard_id = ? AND status = ?", guardID, string(domain.SessionInProgress)).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.Persistencef(err, "get active session")
	}
	s := sessionFromModel(m)
	return &s, nil
}

// CloseSession writes the terminal fields of an in_progress row. The status
// predicate makes the transition idempotence-safe at the storage layer: a
// concurrent close loses and sees zero rows affected.
func (r *PatrolRepository) CloseSession(ctx context.Context, value domain.PatrolSession) (domain.PatrolSession, error) {
	updates := map[string]any{
		"status":           string(value.Status),
		"end_latitude":     value.EndLatitude,
		"end_longitude":    value.EndLongitude,
		"checkpoint_count": value.CheckpointCount,
		"total_distance":   value.TotalDistance,
		"notes":            value.Notes,
		"ended_at":         value.EndedAt,
	}
	res := r.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ? AND status = ?", value.ID, string(domain.SessionInProgress)).
		Updates(updates)
	if res.Error != nil {
		return domain.PatrolSession{}, domain.Persistencef(res.Error, "close patrol session")
	}
	if res.RowsAffected == 0 {
		return domain.PatrolSession{}, domain.Statef("patrol session %d is not in progress", value.ID)
	}

	var m SessionModel
	if err := r.db.WithContext(ctx).First(&m, value.ID).Error; err != nil {
		return domain.PatrolSession{}, domain.Persistencef(err, "reload patrol session")
	}
	return sessionFromModel(m), nil
}

func (r *PatrolRepository) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.PatrolSession, int64, error) {
	q := r.db.WithContext(ctx).Model(&SessionModel{})
	if strings.TrimSpace(filter.GuardID) != "" {
		q = q.Where("guard_id = ?", filter.GuardID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	if filter.From != nil {
		q = q.Where("started_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("started_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, domain.Persistencef(err, "count patrol sessions")
	}

	q = q.Order("started_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	rows := make([]SessionModel, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, domain.Persistencef(err, "list patrol sessions")
	}

	result := make([]domain.PatrolSession, 0, len(rows))
	for _, m := range rows {
		result = append(result, sessionFromModel(m))
	}
	return result, total, nil
}

func (r *PatrolRepository) ListIdleActiveSessions(ctx context.Context, inactiveSince time.Time) ([]domain.PatrolSession, error) {
	rows := make([]SessionModel, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT s.*
FROM patrol_sessions s
WHERE s.status = 'in_progress'
  AND s.started_at < ?
  AND COALESCE((SELECT MAX(p.recorded_at) FROM position_samples p WHERE p.session_id = s.id), s.started_at) < ?
  AND COALESCE((SELECT MAX(v.recorded_at) FROM checkpoint_visits v WHERE v.session_id = s.id), s.started_at) < ?
`, inactiveSince, inactiveSince, inactiveSince).Scan(&rows).Error
	if err != nil {
		return nil, domain.Persistencef(err, "list idle sessions")
	}
	result := make([]domain.PatrolSession, 0, len(rows))
	for _, m := range rows {
		result = append(result, sessionFromModel(m))
	}
	return result, nil
}

func (r *PatrolRepository) AppendSample(ctx context.Context, value domain.PositionSample) (domain.PositionSample, error) {
	m := PositionSampleModel{
		SessionID:  value.SessionID,
		Latitude:   value.Latitude,
		Longitude:  value.Longitude,
		Accuracy:   value.Accuracy,
		Altitude:   value.Altitude,
		Speed:      value.Speed,
		RecordedAt: value.RecordedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.PositionSample{}, domain.Persistencef(err, "append position sample")
	}
	return sampleFromModel(m), nil
}

// ListSamples orders at read time; arrival order in storage is irrelevant.
func (r *PatrolRepository) ListSamples(ctx context.Context, sessionID uint) ([]domain.PositionSample, error) {
	rows := make([]PositionSampleModel, 0)
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("recorded_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.Persistencef(err, "list position samples")
	}
	result := make([]domain.PositionSample, 0, len(rows))
	for _, m := range rows {
		result = append(result, sampleFromModel(m))
	}
	return result, nil
}

// CreateVisit assigns the next sequence number inside a transaction so the
// per-session sequence stays contiguous under the unique index.
func (r *PatrolRepository) CreateVisit(ctx context.Context, value domain.CheckpointVisit) (domain.CheckpointVisit, error) {
	var m CheckpointVisitModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		row := tx.Raw(`SELECT COALESCE(MAX(sequence_number), 0) FROM checkpoint_visits WHERE session_id = ?`, value.SessionID)
		if err := row.Scan(&maxSeq).Error; err != nil {
			return err
		}
		m = CheckpointVisitModel{
			SessionID:       value.SessionID,
			ControlPointID:  value.ControlPointID,
			SequenceNumber:  maxSeq + 1,
			Latitude:        value.Latitude,
			Longitude:       value.Longitude,
			DistanceToPoint: value.DistanceToPoint,
			WithinRadius:    value.WithinRadius,
			Description:     value.Description,
			ElapsedSeconds:  value.ElapsedSincePrev.Seconds(),
			RecordedAt:      value.RecordedAt,
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.CheckpointVisit{}, domain.Conflictf("concurrent checkpoint write for session %d", value.SessionID)
		}
		return domain.CheckpointVisit{}, domain.Persistencef(err, "create checkpoint visit")
	}
	return visitFromModel(m), nil
}

func (r *PatrolRepository) ListVisits(ctx context.Context, sessionID uint) ([]domain.CheckpointVisit, error) {
	rows := make([]CheckpointVisitModel, 0)
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.Persistencef(err, "list checkpoint visits")
	}
	result := make([]domain.CheckpointVisit, 0, len(rows))
	for _, m := range rows {
		result = append(result, visitFromModel(m))
	}
	return result, nil
}

func (r *PatrolRepository) LastVisit(ctx context.Context, sessionID uint) (*domain.CheckpointVisit, error) {
	var m CheckpointVisitModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_number DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.Persistencef(err, "get last checkpoint visit")
	}
	v := visitFromModel(m)
	return &v, nil
}

func (r *PatrolRepository) CountVisits(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CheckpointVisitModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, domain.Persistencef(err, "count checkpoint visits")
	}
	return count, nil
}

func (r *PatrolRepository) AppendAudit(ctx context.Context, value domain.AuditEntry) error {
	m := AuditEntryModel{
		SessionID:  value.SessionID,
		GuardID:    value.GuardID,
		EventType:  string(value.EventType),
		Payload:    value.Payload,
		RecordedAt: value.RecordedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Persistencef(err, "append audit entry")
	}
	return nil
}

func (r *PatrolRepository) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&AuditEntryModel{})
	if strings.TrimSpace(filter.GuardID) != "" {
		q = q.Where("guard_id = ?", filter.GuardID)
	}
	if filter.SessionID != nil {
		q = q.Where("session_id = ?", *filter.SessionID)
	}
	if filter.EventType != nil {
		q = q.Where("event_type = ?", string(*filter.EventType))
	}
	if filter.From != nil {
		q = q.Where("recorded_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("recorded_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, domain.Persistencef(err, "count audit entries")
	}

	q = q.Order("id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	rows := make([]AuditEntryModel, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, domain.Persistencef(err, "list audit entries")
	}
	result := make([]domain.AuditEntry, 0, len(rows))
	for _, m := range rows {
		result = append(result, auditFromModel(m))
	}
	return result, total, nil
}

func (r *PatrolRepository) ResolveToken(ctx context.Context, tokenHash string) (domain.GuardToken, error) {
	var m GuardTokenModel
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GuardToken{}, domain.NotFoundf("unknown token")
		}
		return domain.GuardToken{}, domain.Persistencef(err, "resolve token")
	}
	return tokenFromModel(m), nil
}

func (r *PatrolRepository) CreateToken(ctx context.Context, value domain.GuardToken) (domain.GuardToken, error) {
	m := GuardTokenModel{
		GuardID:   value.GuardID,
		Name:      value.Name,
		Operator:  value.Operator,
		TokenHash: value.TokenHash,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.GuardToken{}, domain.Persistencef(err, "create guard token")
	}
	return tokenFromModel(m), nil
}

func (r *PatrolRepository) CountTokens(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&GuardTokenModel{}).Count(&count).Error; err != nil {
		return 0, domain.Persistencef(err, "count guard tokens")
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sessionFromModel(m SessionModel) domain.PatrolSession {
	return domain.PatrolSession{
		ID:              m.ID,
		GuardID:         m.GuardID,
		Status:          domain.SessionStatus(m.Status),
		StartLatitude:   m.StartLatitude,
		StartLongitude:  m.StartLongitude,
		EndLatitude:     m.EndLatitude,
		EndLongitude:    m.EndLongitude,
		CheckpointCount: m.CheckpointCount,
		TotalDistance:   m.TotalDistance,
		Notes:           m.Notes,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func sampleFromModel(m PositionSampleModel) domain.PositionSample {
	return domain.PositionSample{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		Accuracy:   m.Accuracy,
		Altitude:   m.Altitude,
		Speed:      m.Speed,
		RecordedAt: m.RecordedAt,
	}
}

func visitFromModel(m CheckpointVisitModel) domain.CheckpointVisit {
	return domain.CheckpointVisit{
		ID:               m.ID,
		SessionID:        m.SessionID,
		ControlPointID:   m.ControlPointID,
		SequenceNumber:   m.SequenceNumber,
		Latitude:         m.Latitude,
		Longitude:        m.Longitude,
		DistanceToPoint:  m.DistanceToPoint,
		WithinRadius:     m.WithinRadius,
		Description:      m.Description,
		ElapsedSincePrev: time.Duration(m.ElapsedSeconds * float64(time.Second)),
		RecordedAt:       m.RecordedAt,
	}
}

func auditFromModel(m AuditEntryModel) domain.AuditEntry {
	return domain.AuditEntry{
		ID:         m.ID,
		SessionID:  m.SessionID,
		GuardID:    m.GuardID,
		EventType:  domain.EventType(m.EventType),
		Payload:    m.Payload,
		RecordedAt: m.RecordedAt,
	}
}

func tokenFromModel(m GuardTokenModel) domain.GuardToken {
	return domain.GuardToken{
		ID:        m.ID,
		GuardID:   m.GuardID,
		Name:      m.Name,
		Operator:  m.Operator,
		TokenHash: m.TokenHash,
		CreatedAt: m.CreatedAt,
	}
}

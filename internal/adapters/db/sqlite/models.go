package sqlite

import "time"

type SessionModel struct {
	ID              uint   `gorm:"primaryKey"`
	GuardID         string `gorm:"not null;index"`
	Status          string `gorm:"not null;default:'in_progress';index"`
	StartLatitude   float64 `gorm:"not null"`
	StartLongitude  float64 `gorm:"not null"`
	EndLatitude     *float64
	EndLongitude    *float64
	CheckpointCount int     `gorm:"not null;default:0"`
	TotalDistance   float64 `gorm:"not null;default:0"`
	Notes           string
	StartedAt       time.Time `gorm:"not null"`
	EndedAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SessionModel) TableName() string { return "patrol_sessions" }

type PositionSampleModel struct {
	ID         uint `gorm:"primaryKey"`
	SessionID  uint `gorm:"not null;index:idx_sample_session_time,priority:1"`
	Latitude   float64 `gorm:"not null"`
	Longitude  float64 `gorm:"not null"`
	Accuracy   *float64
	Altitude   *float64
	Speed      *float64
	RecordedAt time.Time `gorm:"not null;index:idx_sample_session_time,priority:2"`
}

func (PositionSampleModel) TableName() string { return "position_samples" }

type CheckpointVisitModel struct {
	ID              uint  `gorm:"primaryKey"`
	SessionID       uint  `gorm:"not null;index:idx_visit_session_seq,unique,priority:1"`
	ControlPointID  *uint `gorm:"index"`
	SequenceNumber  int   `gorm:"not null;index:idx_visit_session_seq,unique,priority:2"`
	Latitude        float64 `gorm:"not null"`
	Longitude       float64 `gorm:"not null"`
	DistanceToPoint *float64
	WithinRadius    *bool
	Description     string
	ElapsedSeconds  float64   `gorm:"not null;default:0"`
	RecordedAt      time.Time `gorm:"not null"`
}

func (CheckpointVisitModel) TableName() string { return "checkpoint_visits" }

type ControlPointModel struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"not null;uniqueIndex"`
	Latitude     float64 `gorm:"not null"`
	Longitude    float64 `gorm:"not null"`
	RadiusMeters float64 `gorm:"not null"`
	Mandatory    bool    `gorm:"not null;default:false"`
	Active       bool    `gorm:"not null;default:true"`
	OrderHint    int     `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ControlPointModel) TableName() string { return "control_points" }

type AuditEntryModel struct {
	ID         uint `gorm:"primaryKey"`
	SessionID  *uint `gorm:"index"`
	GuardID    string `gorm:"not null;index"`
	EventType  string `gorm:"not null;index"`
	Payload    string
	RecordedAt time.Time `gorm:"not null;index"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }

type GuardTokenModel struct {
	ID        uint   `gorm:"primaryKey"`
	GuardID   string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Operator  bool   `gorm:"not null;default:false"`
	TokenHash string `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
}

func (GuardTokenModel) TableName() string { return "guard_tokens" }

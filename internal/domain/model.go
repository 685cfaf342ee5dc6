package domain

import "time"

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionFinalized  SessionStatus = "finalized"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionFinalized || s == SessionCancelled
}

type EventType string

const (
	EventStarted         EventType = "started"
	EventCheckpoint      EventType = "checkpoint"
	EventTrajectoryPoint EventType = "trajectory_point"
	EventFinalized       EventType = "finalized"
	EventCancelled       EventType = "cancelled"
)

// Position is a WGS84 coordinate pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PatrolSession is one guard's patrol attempt, from start to finalize or
// cancel. At most one in_progress session exists per guard.
type PatrolSession struct {
	ID              uint          `json:"id"`
	GuardID         string        `json:"guard_id"`
	Status          SessionStatus `json:"status"`
	StartLatitude   float64       `json:"start_latitude"`
	StartLongitude  float64       `json:"start_longitude"`
	EndLatitude     *float64      `json:"end_latitude,omitempty"`
	EndLongitude    *float64      `json:"end_longitude,omitempty"`
	CheckpointCount int           `json:"checkpoint_count"`
	TotalDistance   float64       `json:"total_distance"`
	Notes           string        `json:"notes,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// PositionSample is one GPS reading pushed by the guard's device while a
// session is active. Append-only.
type PositionSample struct {
	ID         uint      `json:"id"`
	SessionID  uint      `json:"session_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ControlPoint is a pre-registered geofenced location a patrol is expected to
// visit. The core only reads these.
type ControlPoint struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters float64   `json:"radius_meters"`
	Mandatory    bool      `json:"mandatory"`
	Active       bool      `json:"active"`
	OrderHint    int       `json:"order_hint"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CheckpointVisit is a recorded arrival, optionally matched to a control
// point. Sequence numbers are server-assigned and contiguous from 1 within a
// session. Immutable once written.
type CheckpointVisit struct {
	ID               uint          `json:"id"`
	SessionID        uint          `json:"session_id"`
	ControlPointID   *uint         `json:"control_point_id,omitempty"`
	SequenceNumber   int           `json:"sequence_number"`
	Latitude         float64       `json:"latitude"`
	Longitude        float64       `json:"longitude"`
	DistanceToPoint  *float64      `json:"distance_to_point,omitempty"`
	WithinRadius     *bool         `json:"within_radius,omitempty"`
	Description      string        `json:"description,omitempty"`
	ElapsedSincePrev time.Duration `json:"elapsed_since_previous"`
	RecordedAt       time.Time     `json:"recorded_at"`
}

// AuditEntry is an immutable record of one domain event, retained
// independently of the mutable session row.
type AuditEntry struct {
	ID         uint      `json:"id"`
	SessionID  *uint     `json:"session_id,omitempty"`
	GuardID    string    `json:"guard_id"`
	EventType  EventType `json:"event_type"`
	Payload    string    `json:"payload,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProximityCheck is the side-effect-free answer to "am I at this point".
// The boundary is inclusive: DistanceMeters == RadiusMeters is valid.
type ProximityCheck struct {
	Valid          bool    `json:"valid"`
	DistanceMeters float64 `json:"distance"`
	RadiusMeters   float64 `json:"radius"`
}

// Event is the envelope published to the broadcast collaborator. Publishing
// is best-effort and never fails the triggering operation.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Type      string    `json:"type"`
	GuardID   string    `json:"guard_id"`
	SessionID uint      `json:"session_id"`
	Payload   any       `json:"payload,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Identity is the resolved caller, provided by the external auth
// collaborator. Operator identities may read other guards' data.
type Identity struct {
	GuardID  string `json:"guard_id"`
	Name     string `json:"name"`
	Operator bool   `json:"operator"`
}

// GuardToken maps a bearer token hash to an identity. Credential issuance
// happens outside the patrol core.
type GuardToken struct {
	ID        uint      `json:"id"`
	GuardID   string    `json:"guard_id"`
	Name      string    `json:"name"`
	Operator  bool      `json:"operator"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionFilter struct {
	GuardID string
	Status  *SessionStatus
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

type AuditFilter struct {
	GuardID   string
	SessionID *uint
	EventType *EventType
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type ControlPointFilter struct {
	OnlyActive bool
	Query      string
	Limit      int
}

type SessionPage struct {
	Items  []PatrolSession `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type AuditPage struct {
	Items  []AuditEntry `json:"items"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// SessionDetail bundles a session with its full checkpoint and trajectory
// history for reporting.
type SessionDetail struct {
	Session     PatrolSession     `json:"session"`
	Checkpoints []CheckpointVisit `json:"checkpoints"`
	Trajectory  []PositionSample  `json:"trajectory"`
}

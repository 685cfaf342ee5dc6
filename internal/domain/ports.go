package domain

import (
	"context"
	"time"
)

// PatrolRepository is the persistence port for sessions and their child
// rows. Implementations must translate storage uniqueness violations on the
// active-session index into conflict errors.
type PatrolRepository interface {
	CreateSession(ctx context.Context, value PatrolSession) (PatrolSession, error)
	GetSession(ctx context.Context, id uint) (PatrolSession, error)
	ActiveSessionByGuard(ctx context.Context, guardID string) (*PatrolSession, error)
	CloseSession(ctx context.Context, value PatrolSession) (PatrolSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]PatrolSession, int64, error)
	ListIdleActiveSessions(ctx context.Context, inactiveSince time.Time) ([]PatrolSession, error)

	AppendSample(ctx context.Context, value PositionSample) (PositionSample, error)
	ListSamples(ctx context.Context, sessionID uint) ([]PositionSample, error)

	CreateVisit(ctx context.Context, value CheckpointVisit) (CheckpointVisit, error)
	ListVisits(ctx context.Context, sessionID uint) ([]CheckpointVisit, error)
	LastVisit(ctx context.Context, sessionID uint) (*CheckpointVisit, error)
	CountVisits(ctx context.Context, sessionID uint) (int64, error)

	AppendAudit(ctx context.Context, value AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)

	ResolveToken(ctx context.Context, tokenHash string) (GuardToken, error)
	CreateToken(ctx context.Context, value GuardToken) (GuardToken, error)
	CountTokens(ctx context.Context) (int64, error)
}

// ControlPointRegistry is the read-only access interface to checkpoint
// definitions. Point creation and editing live outside the core.
type ControlPointRegistry interface {
	Get(ctx context.Context, id uint) (ControlPoint, error)
	List(ctx context.Context, filter ControlPointFilter) ([]ControlPoint, error)
}

// ControlPointStore is the maintenance side of the registry, used only by
// operator tooling (sync/import), never by the patrol core.
type ControlPointStore interface {
	UpsertByName(ctx context.Context, value ControlPoint) (ControlPoint, error)
}

// EventPublisher delivers lifecycle events to the broadcast collaborator.
// Publish must never block and never returns an error: delivery is
// best-effort by contract.
type EventPublisher interface {
	Publish(topic string, event Event)
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
)

func openTestRepo(t *testing.T) *PatrolRepository {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ronda_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewPatrolRepository(db)
}

func TestOneActiveSessionPerGuard(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	first, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-7",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if first.Status != domain.SessionInProgress {
		t.Fatalf("expected in_progress, got %s", first.Status)
	}

	_, err = repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-7",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	})
	if !domain.IsCode(err, domain.CodeConflict) {
		t.Fatalf("expected conflict for second active session, got %v", err)
	}

	// Another guard is unaffected.
	if _, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-8",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create session for other guard: %v", err)
	}

	active, err := repo.ActiveSessionByGuard(ctx, "guard-7")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatalf("expected active session %d, got %+v", first.ID, active)
	}

	if none, err := repo.ActiveSessionByGuard(ctx, "guard-999"); err != nil || none != nil {
		t.Fatalf("expected no active session, got %+v err %v", none, err)
	}
}

func TestCloseSessionRejectsTerminalRows(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	s, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-1",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ended := time.Now().UTC()
	lat, lon := 10.001, 10.001
	s.Status = domain.SessionFinalized
	s.EndLatitude = &lat
	s.EndLongitude = &lon
	s.TotalDistance = 123.4
	s.CheckpointCount = 2
	s.EndedAt = &ended

	closed, err := repo.CloseSession(ctx, s)
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if closed.Status != domain.SessionFinalized || closed.EndedAt == nil {
		t.Fatalf("expected finalized session, got %+v", closed)
	}
	if closed.TotalDistance != 123.4 || closed.CheckpointCount != 2 {
		t.Fatalf("aggregates not persisted: %+v", closed)
	}

	// A second close must fail on the status predicate.
	s.Status = domain.SessionCancelled
	if _, err := repo.CloseSession(ctx, s); !domain.IsCode(err, domain.CodeState) {
		t.Fatalf("expected state error for terminal session, got %v", err)
	}

	// After the close the guard can start again.
	if _, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-1",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("restart after close: %v", err)
	}
}

func TestVisitSequenceIsContiguousPerSession(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	s, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-2",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i := 0; i < 3; i++ {
		v, err := repo.CreateVisit(ctx, domain.CheckpointVisit{
			SessionID:        s.ID,
			Latitude:         10.0,
			Longitude:        10.0,
			ElapsedSincePrev: 90 * time.Second,
			RecordedAt:       time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create visit %d: %v", i, err)
		}
		if v.SequenceNumber != i+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, v.SequenceNumber)
		}
		if v.ElapsedSincePrev != 90*time.Second {
			t.Fatalf("elapsed round-trip mismatch: %v", v.ElapsedSincePrev)
		}
	}

	last, err := repo.LastVisit(ctx, s.ID)
	if err != nil {
		t.Fatalf("last visit: %v", err)
	}
	if last == nil || last.SequenceNumber != 3 {
		t.Fatalf("expected last sequence 3, got %+v", last)
	}

	count, err := repo.CountVisits(ctx, s.ID)
	if err != nil {
		t.Fatalf("count visits: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 visits, got %d", count)
	}

	// Sequences restart per session.
	other, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-3",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create other session: %v", err)
	}
	v, err := repo.CreateVisit(ctx, domain.CheckpointVisit{
		SessionID:  other.ID,
		Latitude:   10.0,
		Longitude:  10.0,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create visit in other session: %v", err)
	}
	if v.SequenceNumber != 1 {
		t.Fatalf("expected sequence 1 in fresh session, got %d", v.SequenceNumber)
	}
}

func TestSamplesOrderedByRecordedAt(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	s, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-4",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	// Insert out of chronological order.
	offsets := []time.Duration{2 * time.Minute, 0, time.Minute}
	for _, off := range offsets {
		if _, err := repo.AppendSample(ctx, domain.PositionSample{
			SessionID:  s.ID,
			Latitude:   10.0,
			Longitude:  10.0,
			RecordedAt: base.Add(off),
		}); err != nil {
			t.Fatalf("append sample: %v", err)
		}
	}

	samples, err := repo.ListSamples(ctx, s.ID)
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].RecordedAt.Before(samples[i-1].RecordedAt) {
			t.Fatalf("samples not ordered by recorded_at: %v before %v",
				samples[i].RecordedAt, samples[i-1].RecordedAt)
		}
	}
}

func TestListIdleActiveSessions(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	old := time.Now().UTC().Add(-2 * time.Hour)
	stale, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-idle",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      old,
	})
	if err != nil {
		t.Fatalf("create stale session: %v", err)
	}

	fresh, err := repo.CreateSession(ctx, domain.PatrolSession{
		GuardID:        "guard-busy",
		StartLatitude:  10.0,
		StartLongitude: 10.0,
		StartedAt:      old,
	})
	if err != nil {
		t.Fatalf("create fresh session: %v", err)
	}
	// Recent sample keeps the second session out of the idle set.
	if _, err := repo.AppendSample(ctx, domain.PositionSample{
		SessionID:  fresh.ID,
		Latitude:   10.0,
		Longitude:  10.0,
		RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("append sample: %v", err)
	}

	cutoff := time.Now().UTC().Add(-time.Hour)
	idle, err := repo.ListIdleActiveSessions(ctx, cutoff)
	if err != nil {
		t.Fatalf("list idle: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != stale.ID {
		t.Fatalf("expected only stale session %d idle, got %+v", stale.ID, idle)
	}
}

func TestAuditFiltering(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	sessionID := uint(42)
	entries := []domain.AuditEntry{
		{SessionID: &sessionID, GuardID: "guard-a", EventType: domain.EventStarted, RecordedAt: time.Now().UTC()},
		{SessionID: &sessionID, GuardID: "guard-a", EventType: domain.EventCheckpoint, RecordedAt: time.Now().UTC()},
		{GuardID: "guard-b", EventType: domain.EventStarted, RecordedAt: time.Now().UTC()},
	}
	for _, e := range entries {
		if err := repo.AppendAudit(ctx, e); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}

	byGuard, total, err := repo.ListAudit(ctx, domain.AuditFilter{GuardID: "guard-a", Limit: 10})
	if err != nil {
		t.Fatalf("list audit by guard: %v", err)
	}
	if total != 2 || len(byGuard) != 2 {
		t.Fatalf("expected 2 entries for guard-a, got total=%d len=%d", total, len(byGuard))
	}

	started := domain.EventStarted
	byType, total, err := repo.ListAudit(ctx, domain.AuditFilter{EventType: &started, Limit: 10})
	if err != nil {
		t.Fatalf("list audit by type: %v", err)
	}
	if total != 2 || len(byType) != 2 {
		t.Fatalf("expected 2 started entries, got total=%d len=%d", total, len(byType))
	}
}

func TestControlPointCatalogUpsertAndList(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ronda_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	catalog := NewControlPointCatalog(db)

	created, err := catalog.UpsertByName(ctx, domain.ControlPoint{
		Name: "Gate A", Latitude: 10.0, Longitude: 10.0, RadiusMeters: 30, Active: true,
	})
	if err != nil {
		t.Fatalf("upsert create: %v", err)
	}

	updated, err := catalog.UpsertByName(ctx, domain.ControlPoint{
		Name: "Gate A", Latitude: 10.0, Longitude: 10.0, RadiusMeters: 45, Active: false,
	})
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("upsert duplicated point: %d != %d", updated.ID, created.ID)
	}
	if updated.RadiusMeters != 45 || updated.Active {
		t.Fatalf("upsert did not apply fields: %+v", updated)
	}

	if _, err := catalog.UpsertByName(ctx, domain.ControlPoint{
		Name: "Gate B", Latitude: 11.0, Longitude: 11.0, RadiusMeters: 20, Active: true,
	}); err != nil {
		t.Fatalf("upsert second point: %v", err)
	}

	activeOnly, err := catalog.List(ctx, domain.ControlPointFilter{OnlyActive: true})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(activeOnly) != 1 || activeOnly[0].Name != "Gate B" {
		t.Fatalf("expected only Gate B active, got %+v", activeOnly)
	}

	all, err := catalog.List(ctx, domain.ControlPointFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 points, got %d", len(all))
	}

	got, err := catalog.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Gate A" {
		t.Fatalf("unexpected point: %+v", got)
	}
	if _, err := catalog.Get(ctx, 9999); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

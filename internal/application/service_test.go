package application

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqliteadapter "github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/db/sqlite"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/events"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"github.com/rs/zerolog"
)

func f64(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*PatrolService, *events.Broker) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ronda_test.db")

	db, err := sqliteadapter.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	repo := sqliteadapter.NewPatrolRepository(db)
	catalog := sqliteadapter.NewControlPointCatalog(db)
	broker := events.NewBroker(zerolog.Nop())
	return NewPatrolService(repo, catalog, catalog, broker, zerolog.Nop()), broker
}

func TestPatrolLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, broker := newTestService(t)

	eventCh, cancel := broker.Subscribe(TopicPatrol)
	defer cancel()

	// A 30m geofence roughly 50m north of where the guard will stand.
	synced, err := svc.SyncControlPoints(ctx, []domain.ControlPoint{
		{Name: "Warehouse Gate", Latitude: 10.00135, Longitude: 10.0, RadiusMeters: 30, Mandatory: true, Active: true},
	})
	if err != nil || synced != 1 {
		t.Fatalf("sync control points: synced=%d err=%v", synced, err)
	}
	points, err := svc.ListControlPoints(ctx, domain.ControlPointFilter{OnlyActive: true})
	if err != nil || len(points) != 1 {
		t.Fatalf("list control points: %v (%d)", err, len(points))
	}
	gate := points[0]

	session, err := svc.StartSession(ctx, "guard-1", domain.Position{Latitude: 10.0, Longitude: 10.0}, "")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if session.Status != domain.SessionInProgress {
		t.Fatalf("expected in_progress, got %s", session.Status)
	}

	// Walk 100m due north in two 50m hops.
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, lat := range []float64{10.0, 10.00045, 10.0009} {
		at := base.Add(time.Duration(i) * time.Minute)
		if _, err := svc.AppendSample(ctx, "guard-1", session.ID, TrackInput{
			Latitude: lat, Longitude: 10.0, RecordedAt: &at,
		}); err != nil {
			t.Fatalf("append sample %d: %v", i, err)
		}
	}

	// 0.0009 degrees latitude is about 100m, so the guard stands roughly
	// 50m from the gate, outside its 30m radius.
	visit, err := svc.RecordCheckpoint(ctx, "guard-1", session.ID, CheckpointInput{
		Latitude: 10.0009, Longitude: 10.0, ControlPointID: &gate.ID,
	})
	if err != nil {
		t.Fatalf("record checkpoint: %v", err)
	}
	if visit.SequenceNumber != 1 {
		t.Fatalf("expected sequence 1, got %d", visit.SequenceNumber)
	}
	if visit.WithinRadius == nil || *visit.WithinRadius {
		t.Fatalf("expected checkpoint outside radius, got %+v", visit)
	}
	if visit.DistanceToPoint == nil || math.Abs(*visit.DistanceToPoint-50.0) > 1.0 {
		t.Fatalf("expected ~50m to gate, got %+v", visit.DistanceToPoint)
	}
	if visit.ElapsedSincePrev <= 0 {
		t.Fatalf("expected positive elapsed time, got %v", visit.ElapsedSincePrev)
	}

	final, err := svc.FinalizeSession(ctx, "guard-1", session.ID, FinalizeInput{
		Latitude: f64(10.0009), Longitude: f64(10.0), Notes: "all quiet",
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != domain.SessionFinalized || final.EndedAt == nil {
		t.Fatalf("expected finalized session, got %+v", final)
	}
	if final.CheckpointCount != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", final.CheckpointCount)
	}
	if math.Abs(final.TotalDistance-100.0) > 1.0 {
		t.Fatalf("expected ~100m total distance, got %v", final.TotalDistance)
	}

	detail, err := svc.SessionDetail(ctx, domain.Identity{GuardID: "guard-1"}, session.ID)
	if err != nil {
		t.Fatalf("session detail: %v", err)
	}
	if len(detail.Trajectory) != 3 || len(detail.Checkpoints) != 1 {
		t.Fatalf("unexpected detail sizes: %d samples, %d visits", len(detail.Trajectory), len(detail.Checkpoints))
	}

	audit, err := svc.ListAudit(ctx, domain.AuditFilter{GuardID: "guard-1"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	seen := map[domain.EventType]bool{}
	for _, e := range audit.Items {
		seen[e.EventType] = true
	}
	for _, want := range []domain.EventType{domain.EventStarted, domain.EventCheckpoint, domain.EventFinalized} {
		if !seen[want] {
			t.Fatalf("missing %s audit entry, got %+v", want, audit.Items)
		}
	}

	types := map[string]bool{}
	for len(eventCh) > 0 {
		e := <-eventCh
		types[e.Type] = true
		if e.ID == "" || e.GuardID != "guard-1" {
			t.Fatalf("malformed event %+v", e)
		}
	}
	for _, want := range []string{"session:started", "trajectory:point", "checkpoint:recorded", "session:finalized"} {
		if !types[want] {
			t.Fatalf("missing %s event, got %v", want, types)
		}
	}
}

func TestStartSessionSingleWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StartSession(ctx, "guard-race", domain.Position{Latitude: 10, Longitude: 10}, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case domain.IsCode(err, domain.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one winner, got ok=%d conflicts=%d", ok, conflicts)
	}
}

func TestTerminalSessionRejectsMutations(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	session, err := svc.StartSession(ctx, "guard-2", domain.Position{Latitude: 10, Longitude: 10}, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancelled, err := svc.CancelSession(ctx, "guard-2", session.ID, "shift change")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.SessionCancelled || cancelled.Notes != "shift change" {
		t.Fatalf("unexpected cancelled session: %+v", cancelled)
	}
	// Cancel leaves the distance alone; only finalize computes it.
	if cancelled.TotalDistance != 0 {
		t.Fatalf("expected zero distance on cancel, got %v", cancelled.TotalDistance)
	}

	if _, err := svc.AppendSample(ctx, "guard-2", session.ID, TrackInput{Latitude: 10, Longitude: 10}); !domain.IsCode(err, domain.CodeState) {
		t.Fatalf("expected state error on track, got %v", err)
	}
	if _, err := svc.RecordCheckpoint(ctx, "guard-2", session.ID, CheckpointInput{Latitude: 10, Longitude: 10}); !domain.IsCode(err, domain.CodeState) {
		t.Fatalf("expected state error on checkpoint, got %v", err)
	}
	if _, err := svc.FinalizeSession(ctx, "guard-2", session.ID, FinalizeInput{Latitude: f64(10), Longitude: f64(10)}); !domain.IsCode(err, domain.CodeState) {
		t.Fatalf("expected state error on finalize, got %v", err)
	}

	// The guard is free to start again; the end position is optional.
	next, err := svc.StartSession(ctx, "guard-2", domain.Position{Latitude: 10, Longitude: 10}, "")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if final, err := svc.FinalizeSession(ctx, "guard-2", next.ID, FinalizeInput{}); err != nil {
		t.Fatalf("finalize without samples: %v", err)
	} else if final.TotalDistance != 0 || final.EndLatitude != nil {
		t.Fatalf("expected zero distance and no end position, got %+v", final)
	}
}

func TestSessionOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	session, err := svc.StartSession(ctx, "guard-a", domain.Position{Latitude: 10, Longitude: 10}, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.AppendSample(ctx, "guard-b", session.ID, TrackInput{Latitude: 10, Longitude: 10}); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found for foreign track, got %v", err)
	}
	if _, err := svc.SessionDetail(ctx, domain.Identity{GuardID: "guard-b"}, session.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found for foreign detail, got %v", err)
	}
	// Operators can read anything.
	if _, err := svc.SessionDetail(ctx, domain.Identity{GuardID: "ops", Operator: true}, session.ID); err != nil {
		t.Fatalf("operator detail: %v", err)
	}

	page, err := svc.SessionHistory(ctx, domain.Identity{GuardID: "guard-b"}, domain.SessionFilter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("guard-b should see no sessions, got %d", page.Total)
	}
}

func TestValidateProximityInclusiveBoundary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.SyncControlPoints(ctx, []domain.ControlPoint{
		{Name: "Dock", Latitude: 10.00045, Longitude: 10.0, RadiusMeters: 60, Active: true},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	points, err := svc.ListControlPoints(ctx, domain.ControlPointFilter{})
	if err != nil || len(points) != 1 {
		t.Fatalf("list: %v", err)
	}

	check, err := svc.ValidateProximity(ctx, points[0].ID, domain.Position{Latitude: 10.0, Longitude: 10.0})
	if err != nil {
		t.Fatalf("proximity: %v", err)
	}
	if !check.Valid {
		t.Fatalf("expected ~50m inside 60m radius to be valid, got %+v", check)
	}
	if check.RadiusMeters != 60 {
		t.Fatalf("expected radius echoed back, got %+v", check)
	}

	if _, err := svc.ValidateProximity(ctx, 9999, domain.Position{Latitude: 10, Longitude: 10}); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found for unknown point, got %v", err)
	}
	if _, err := svc.ValidateProximity(ctx, points[0].ID, domain.Position{Latitude: 91, Longitude: 10}); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInactiveControlPointReadsAsMissing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.SyncControlPoints(ctx, []domain.ControlPoint{
		{Name: "Old Gate", Latitude: 10.0, Longitude: 10.0, RadiusMeters: 30, Active: false},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	points, err := svc.ListControlPoints(ctx, domain.ControlPointFilter{OnlyActive: false})
	if err != nil || len(points) != 1 {
		t.Fatalf("list all points: %v (%d)", err, len(points))
	}
	retired := points[0]

	session, err := svc.StartSession(ctx, "guard-5", domain.Position{Latitude: 10, Longitude: 10}, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.RecordCheckpoint(ctx, "guard-5", session.ID, CheckpointInput{
		Latitude: 10, Longitude: 10, ControlPointID: &retired.ID,
	}); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found for inactive point, got %v", err)
	}

	// A free-form checkpoint on the same session still goes through.
	if _, err := svc.RecordCheckpoint(ctx, "guard-5", session.ID, CheckpointInput{
		Latitude: 10, Longitude: 10, Description: "old gate area",
	}); err != nil {
		t.Fatalf("free-form checkpoint: %v", err)
	}
}

func TestEnrollAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	token, err := svc.EnrollGuard(ctx, "guard-9", "Paulo Santos", false)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a token")
	}

	identity, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.GuardID != "guard-9" || identity.Name != "Paulo Santos" || identity.Operator {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if _, err := svc.Authenticate(ctx, "bogus-token"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found for bad token, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, ""); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("expected validation error for empty token, got %v", err)
	}
}

func TestReapIdleSessions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	past := time.Now().UTC().Add(-3 * time.Hour)
	svc.now = func() time.Time { return past }
	stale, err := svc.StartSession(ctx, "guard-idle", domain.Position{Latitude: 10, Longitude: 10}, "")
	if err != nil {
		t.Fatalf("start stale: %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC() }

	busy, err := svc.StartSession(ctx, "guard-busy", domain.Position{Latitude: 10, Longitude: 10}, "")
	if err != nil {
		t.Fatalf("start busy: %v", err)
	}

	reaped, err := svc.ReapIdleSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected 1 reaped session, got %d", reaped)
	}

	detail, err := svc.SessionDetail(ctx, domain.Identity{Operator: true}, stale.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Session.Status != domain.SessionCancelled {
		t.Fatalf("expected stale session cancelled, got %s", detail.Session.Status)
	}

	if active, err := svc.ActiveSession(ctx, "guard-busy"); err != nil || active == nil || active.ID != busy.ID {
		t.Fatalf("busy session should survive the sweep: %+v err %v", active, err)
	}

	if n, err := svc.ReapIdleSessions(ctx, 0); err != nil || n != 0 {
		t.Fatalf("disabled sweep should be a no-op, got n=%d err=%v", n, err)
	}
}

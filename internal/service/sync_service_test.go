package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fieldsync-server/internal/domain"
	"fieldsync-server/internal/lock"
	"fieldsync-server/internal/repository"

	"go.uber.org/zap"
)

type mockCanonicalStore struct {
	mu      sync.Mutex
	records map[string]*domain.CanonicalRecord
	err     error
}

func newMockCanonicalStore() *mockCanonicalStore {
	return &mockCanonicalStore{records: make(map[string]*domain.CanonicalRecord)}
}

func canonicalKey(tenantID string, rt domain.RecordType, key string, sibling int) string {
	return fmt.Sprintf("%s/%s/%s/%d", tenantID, rt, key, sibling)
}

func (m *mockCanonicalStore) Find(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) (*domain.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.records[canonicalKey(tenantID, rt, naturalKey, 0)], nil
}

func (m *mockCanonicalStore) Upsert(ctx context.Context, rec *domain.CanonicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[canonicalKey(rec.TenantID, rec.RecordType, rec.NaturalKey, 0)] = rec
	return nil
}

func (m *mockCanonicalStore) InsertSibling(ctx context.Context, rec *domain.CanonicalRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 1
	for {
		if _, exists := m.records[canonicalKey(rec.TenantID, rec.RecordType, rec.NaturalKey, n)]; !exists {
			break
		}
		n++
	}
	rec.SiblingNo = n
	m.records[canonicalKey(rec.TenantID, rec.RecordType, rec.NaturalKey, n)] = rec
	return n, nil
}

func (m *mockCanonicalStore) ListSiblings(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) ([]*domain.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CanonicalRecord
	for n := 0; ; n++ {
		rec, exists := m.records[canonicalKey(tenantID, rt, naturalKey, n)]
		if !exists {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

type mockConflictRepo struct {
	mu        sync.Mutex
	conflicts map[string]*domain.Conflict
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{conflicts: make(map[string]*domain.Conflict)}
}

func (m *mockConflictRepo) Create(ctx context.Context, c *domain.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *mockConflictRepo) Get(ctx context.Context, tenantID, conflictID string) (*domain.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.conflicts[conflictID]
	if !exists || c.TenantID != tenantID {
		return nil, domain.ErrConflictNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConflictRepo) GetByEvent(ctx context.Context, tenantID, eventID string) (*domain.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.TenantID == tenantID && c.EventID == eventID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrConflictNotFound
}

func (m *mockConflictRepo) List(ctx context.Context, tenantID string, filter repository.ConflictFilter) ([]*domain.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Conflict
	for _, c := range m.conflicts {
		if c.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockConflictRepo) MarkTerminal(ctx context.Context, tenantID, conflictID string, status domain.ConflictStatus, resolvedBy, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.conflicts[conflictID]
	if !exists || c.TenantID != tenantID {
		return domain.ErrConflictNotFound
	}
	if c.Status != domain.ConflictPendingReview {
		return domain.ErrConflictAlreadyResolved
	}
	now := time.Now().UTC()
	c.Status = status
	c.ResolvedAt = &now
	c.ResolvedBy = resolvedBy
	c.Resolution = resolution
	return nil
}

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *mockAuditRepo) Append(ctx context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) ListByEvent(ctx context.Context, tenantID, eventID string) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockProcessedRepo struct {
	mu        sync.Mutex
	processed map[string]*domain.ProcessedEvent
}

func newMockProcessedRepo() *mockProcessedRepo {
	return &mockProcessedRepo{processed: make(map[string]*domain.ProcessedEvent)}
}

func (m *mockProcessedRepo) Get(ctx context.Context, tenantID, eventID string) (*domain.ProcessedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[tenantID+"/"+eventID], nil
}

func (m *mockProcessedRepo) Mark(ctx context.Context, tenantID, eventID string, outcome domain.ProcessedOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[tenantID+"/"+eventID] = &domain.ProcessedEvent{
		TenantID:    tenantID,
		EventID:     eventID,
		Outcome:     outcome,
		ProcessedAt: time.Now().UTC(),
	}
	return nil
}

type mockNotifier struct {
	mu       sync.Mutex
	pending  []*domain.Conflict
	resolved []*domain.Conflict
}

func (m *mockNotifier) ConflictPending(tenantID string, c *domain.Conflict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, c)
}

func (m *mockNotifier) ConflictResolved(tenantID string, c *domain.Conflict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, c)
}

type fixture struct {
	canonical *mockCanonicalStore
	conflicts *mockConflictRepo
	audits    *mockAuditRepo
	processed *mockProcessedRepo
	notifier  *mockNotifier
	sync      *SyncService
	review    *ReviewService
}

func newFixture() *fixture {
	f := &fixture{
		canonical: newMockCanonicalStore(),
		conflicts: newMockConflictRepo(),
		audits:    &mockAuditRepo{},
		processed: newMockProcessedRepo(),
		notifier:  &mockNotifier{},
	}
	locks := lock.NewKeyedMutex()
	f.sync = NewSyncService(f.canonical, f.conflicts, f.audits, f.processed, locks, f.notifier, 5*time.Second, zap.NewNop())
	f.review = NewReviewService(f.conflicts, f.canonical, f.audits, f.processed, locks, f.notifier, zap.NewNop())
	return f
}

var testTenant = domain.TenantContext{TenantID: "tenant-1", UserID: "j.ortiz", DeviceID: "tablet-4"}

func rawPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func productionSyncEvent(t *testing.T, id string, volume float64, recordedAt time.Time) domain.Event {
	t.Helper()
	return domain.Event{
		ID:       id,
		Type:     domain.EventProductionLogged,
		DeviceID: "tablet-4",
		UserID:   "j.ortiz",
		Payload: rawPayload(t, domain.ProductionPayload{
			Well: "well-12", Date: "2026-03-14", Volume: volume, RecordedAt: recordedAt,
		}),
		OccurredAt: recordedAt,
	}
}

func TestSyncBatch_FirstWriteApplies(t *testing.T) {
	f := newFixture()
	event := productionSyncEvent(t, "evt-1", 120, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{event})

	if len(result.AppliedEventIDs) != 1 || result.AppliedEventIDs[0] != "evt-1" {
		t.Fatalf("expected evt-1 applied, got %v", result.AppliedEventIDs)
	}
	if len(result.Conflicts) != 0 || len(result.Errors) != 0 {
		t.Fatalf("unexpected conflicts or errors: %+v", result)
	}

	rec, err := f.canonical.Find(context.Background(), "tenant-1", domain.RecordProduction, "well-12|2026-03-14")
	if err != nil || rec == nil {
		t.Fatal("expected canonical record to be created")
	}
}

func TestSyncBatch_HighestValueConflictAutoResolves(t *testing.T) {
	f := newFixture()
	server := productionSyncEvent(t, "evt-1", 120, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	local := productionSyncEvent(t, "evt-2", 125.5, time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))

	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{server})
	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{local})

	if len(result.AppliedEventIDs) != 1 {
		t.Fatalf("expected the higher volume to apply, got %+v", result)
	}

	rec, _ := f.canonical.Find(context.Background(), "tenant-1", domain.RecordProduction, "well-12|2026-03-14")
	var p domain.ProductionPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		t.Fatalf("unmarshal canonical payload: %v", err)
	}
	if p.Volume != 125.5 {
		t.Errorf("expected canonical volume 125.5, got %v", p.Volume)
	}

	entries, _ := f.audits.ListByEvent(context.Background(), "tenant-1", "evt-2")
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if entries[0].Decision != "update_server" {
		t.Errorf("expected update_server decision, got %s", entries[0].Decision)
	}
	if entries[0].Actor != domain.SystemActor {
		t.Errorf("expected system actor, got %s", entries[0].Actor)
	}
}

func TestSyncBatch_LowerValueKeepsServer(t *testing.T) {
	f := newFixture()
	server := productionSyncEvent(t, "evt-1", 140, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	local := productionSyncEvent(t, "evt-2", 120, time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))

	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{server})
	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{local})

	// The event applies (the device stops retrying) but canonical state is
	// untouched.
	if len(result.AppliedEventIDs) != 1 {
		t.Fatalf("expected applied event, got %+v", result)
	}

	rec, _ := f.canonical.Find(context.Background(), "tenant-1", domain.RecordProduction, "well-12|2026-03-14")
	var p domain.ProductionPayload
	json.Unmarshal(rec.Payload, &p)
	if p.Volume != 140 {
		t.Errorf("server volume overwritten: got %v", p.Volume)
	}
}

func TestSyncBatch_SafetyCriticalGoesToReview(t *testing.T) {
	f := newFixture()
	inspection := func(id, status string, at time.Time) domain.Event {
		return domain.Event{
			ID:       id,
			Type:     domain.EventEquipmentInspected,
			DeviceID: "tablet-4",
			UserID:   "j.ortiz",
			Payload: rawPayload(t, domain.InspectionPayload{
				Well: "well-7", Equipment: "bop-stack", Date: "2026-06-01", Status: status, InspectedAt: at,
			}),
			OccurredAt: at,
		}
	}

	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{inspection("evt-1", "PASS", time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))})
	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{inspection("evt-2", "FAIL", time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))})

	if len(result.Conflicts) != 1 {
		t.Fatalf("expected one pending conflict, got %+v", result)
	}
	if result.Conflicts[0].Status != domain.ConflictPendingReview {
		t.Errorf("expected pending_review, got %s", result.Conflicts[0].Status)
	}
	if len(result.AppliedEventIDs) != 0 {
		t.Error("conflicted event must not report as applied")
	}

	// Canonical state keeps the earlier PASS until a supervisor decides.
	rec, _ := f.canonical.Find(context.Background(), "tenant-1", domain.RecordInspection, "well-7|bop-stack|2026-06-01")
	var p domain.InspectionPayload
	json.Unmarshal(rec.Payload, &p)
	if p.Status != "PASS" {
		t.Errorf("canonical record changed before review: %s", p.Status)
	}

	if len(f.notifier.pending) != 1 {
		t.Errorf("expected one review notification, got %d", len(f.notifier.pending))
	}
}

func TestSyncBatch_NotesMerge(t *testing.T) {
	f := newFixture()
	note := func(id, text, author string, at time.Time) domain.Event {
		return domain.Event{
			ID:       id,
			Type:     domain.EventNotesAdded,
			DeviceID: "tablet-4",
			UserID:   author,
			Payload: rawPayload(t, domain.NotesPayload{
				Well: "well-5", Date: "2026-04-02", Text: text, Author: author, WrittenAt: at,
			}),
			OccurredAt: at,
		}
	}

	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{note("evt-1", "morning check ok", "k.tran", time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))})
	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{note("evt-2", "replaced packing", "j.ortiz", time.Date(2026, 4, 2, 16, 0, 0, 0, time.UTC))})

	if len(result.AppliedEventIDs) != 1 {
		t.Fatalf("expected merge to apply, got %+v", result)
	}

	rec, _ := f.canonical.Find(context.Background(), "tenant-1", domain.RecordNotes, "well-5|2026-04-02")
	var p domain.NotesPayload
	json.Unmarshal(rec.Payload, &p)
	if p.Author != "k.tran, j.ortiz" {
		t.Errorf("expected combined authors, got %q", p.Author)
	}
}

func TestSyncBatch_PhotoKeepBothCreatesSibling(t *testing.T) {
	f := newFixture()
	photo := func(id, ref string) domain.Event {
		return domain.Event{
			ID:       id,
			Type:     domain.EventPhotoAdded,
			DeviceID: "tablet-4",
			UserID:   "j.ortiz",
			Payload: rawPayload(t, domain.PhotoPayload{
				Well: "well-9", Date: "2026-02-20", PhotoRef: ref, TakenAt: time.Date(2026, 2, 20, 11, 0, 0, 0, time.UTC),
			}),
			OccurredAt: time.Date(2026, 2, 20, 11, 0, 0, 0, time.UTC),
		}
	}

	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{photo("evt-1", "ph-198")})
	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{photo("evt-2", "ph-221")})

	if len(result.AppliedEventIDs) != 1 {
		t.Fatalf("expected keep_both to apply, got %+v", result)
	}

	siblings, _ := f.canonical.ListSiblings(context.Background(), "tenant-1", domain.RecordPhotos, "well-9|2026-02-20")
	if len(siblings) != 2 {
		t.Fatalf("expected 2 sibling records, got %d", len(siblings))
	}
}

func TestSyncBatch_MalformedEventIsolated(t *testing.T) {
	f := newFixture()
	bad := domain.Event{
		ID:         "evt-bad",
		Type:       domain.EventProductionLogged,
		DeviceID:   "tablet-4",
		UserID:     "j.ortiz",
		Payload:    json.RawMessage(`{"well":"well-12"`),
		OccurredAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	good := productionSyncEvent(t, "evt-good", 120, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{bad, good})

	if len(result.Errors) != 1 || result.Errors[0].EventID != "evt-bad" {
		t.Fatalf("expected evt-bad in errors, got %+v", result.Errors)
	}
	if len(result.AppliedEventIDs) != 1 || result.AppliedEventIDs[0] != "evt-good" {
		t.Fatalf("later event must still process, got %+v", result.AppliedEventIDs)
	}
}

func TestSyncBatch_UnknownEventTypeRejected(t *testing.T) {
	f := newFixture()
	event := domain.Event{
		ID:         "evt-1",
		Type:       domain.EventType("drone_flyover"),
		DeviceID:   "tablet-4",
		UserID:     "j.ortiz",
		Payload:    json.RawMessage(`{}`),
		OccurredAt: time.Now().UTC(),
	}

	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{event})

	if len(result.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", result)
	}
}

func TestSyncBatch_ResubmissionIsIdempotent(t *testing.T) {
	f := newFixture()
	event := productionSyncEvent(t, "evt-1", 120, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	first := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{event})
	second := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{event})

	if len(first.AppliedEventIDs) != 1 || len(second.AppliedEventIDs) != 1 {
		t.Fatal("resubmitted event must report applied both times")
	}

	// The resubmission must not have re-run the pipeline: still exactly one
	// canonical record and no conflict rows.
	if len(f.conflicts.conflicts) != 0 {
		t.Errorf("resubmission created %d conflicts", len(f.conflicts.conflicts))
	}
}

func TestSyncBatch_ResubmittedPendingEventReportsConflict(t *testing.T) {
	f := newFixture()
	inspect := func(id, status string) domain.Event {
		return domain.Event{
			ID:       id,
			Type:     domain.EventEquipmentInspected,
			DeviceID: "tablet-4",
			UserID:   "j.ortiz",
			Payload: rawPayload(t, domain.InspectionPayload{
				Well: "well-7", Equipment: "separator", Date: "2026-06-01", Status: status, InspectedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
			}),
			OccurredAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		}
	}

	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{inspect("evt-1", "PASS")})
	f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{inspect("evt-2", "FAIL")})

	// Device retries the conflicted event; it must get the same pending
	// conflict back, not a duplicate.
	retry := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{inspect("evt-2", "FAIL")})

	if len(retry.Conflicts) != 1 {
		t.Fatalf("expected pending conflict on retry, got %+v", retry)
	}
	if len(f.conflicts.conflicts) != 1 {
		t.Errorf("retry created a duplicate conflict row, have %d", len(f.conflicts.conflicts))
	}
}

func TestSyncBatch_StorageErrorReportsTransient(t *testing.T) {
	f := newFixture()
	f.canonical.err = errors.New("connection refused")
	event := productionSyncEvent(t, "evt-1", 120, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	result := f.sync.SyncBatch(context.Background(), testTenant, []domain.Event{event})

	if len(result.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", result)
	}

	// Nothing must have been marked processed: the event is retryable.
	prior, _ := f.processed.Get(context.Background(), "tenant-1", "evt-1")
	if prior != nil {
		t.Error("failed event must not enter the idempotency index")
	}
}

func TestSyncBatch_BatchOrderPreserved(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Two events for the same key in one batch: the second sees the state
	// the first wrote.
	events := []domain.Event{
		productionSyncEvent(t, "evt-1", 100, base),
		productionSyncEvent(t, "evt-2", 130, base.Add(time.Hour)),
	}

	result := f.sync.SyncBatch(context.Background(), testTenant, events)
	if len(result.AppliedEventIDs) != 2 {
		t.Fatalf("expected both events applied, got %+v", result)
	}

	rec, _ := f.canonical.Find(context.Background(), "tenant-1", domain.RecordProduction, "well-12|2026-03-14")
	var p domain.ProductionPayload
	json.Unmarshal(rec.Payload, &p)
	if p.Volume != 130 {
		t.Errorf("expected final volume 130, got %v", p.Volume)
	}
}

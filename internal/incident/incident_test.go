package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/casefile/internal/soc"
	"github.com/linnemanlabs/casefile/internal/soc/memstore"
)

func newTestService(store soc.Store) *Service {
	svc := NewService(store, nil)
	svc.now = func() time.Time { return time.Date(2026, time.February, 20, 10, 0, 0, 0, time.UTC) }
	return svc
}

func upsert(t *testing.T, store soc.Store, id, rule, ip string, sev int, desc string) {
	t.Helper()
	al := &soc.Alert{ID: id, RuleName: rule, SrcIP: ip, Severity: sev, Description: desc}
	if err := store.UpsertAlert(context.Background(), al); err != nil {
		t.Fatalf("UpsertAlert: %v", err)
	}
}

func TestSynthesize_CreatesIncident(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	upsert(t, store, "a1", "SSH_BRUTE_FORCE", "203.0.113.10", 6, "SSH brute force suspected: 12 failed logins from 203.0.113.10")

	created, updated, err := svc.Synthesize(ctx)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if created != 1 || updated != 0 {
		t.Fatalf("created, updated = %d, %d, want 1, 0", created, updated)
	}

	incidents, _ := store.Incidents(ctx)
	if len(incidents) != 1 {
		t.Fatalf("len(incidents) = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.Key != "INC-2026-000001" {
		t.Errorf("Key = %q, want INC-2026-000001", inc.Key)
	}
	if inc.Status != soc.StatusNew {
		t.Errorf("Status = %q, want New", inc.Status)
	}
	if inc.Severity != 6 {
		t.Errorf("Severity = %d, want 6", inc.Severity)
	}
	if inc.PrimaryIP != "203.0.113.10" {
		t.Errorf("PrimaryIP = %q", inc.PrimaryIP)
	}
	want := "SSH_BRUTE_FORCE detected from 203.0.113.10 — SSH brute force suspected: 12 failed logins from 203.0.113.10"
	if inc.Summary != want {
		t.Errorf("Summary = %q, want %q", inc.Summary, want)
	}
	if inc.SourceAlertID != "a1" {
		t.Errorf("SourceAlertID = %q, want a1", inc.SourceAlertID)
	}
}

func TestSynthesize_KeysAreSequential(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	upsert(t, store, "a1", "SSH_BRUTE_FORCE", "203.0.113.10", 6, "d1")
	upsert(t, store, "a2", "WEB_404_SCANNING", "198.51.100.7", 6, "d2")
	upsert(t, store, "a3", "SSH_BRUTE_FORCE", "198.51.100.7", 7, "d3")

	if _, _, err := svc.Synthesize(ctx); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	incidents, _ := store.Incidents(ctx)
	if len(incidents) != 3 {
		t.Fatalf("len(incidents) = %d, want 3", len(incidents))
	}
	wantKeys := []string{"INC-2026-000001", "INC-2026-000002", "INC-2026-000003"}
	for i, want := range wantKeys {
		if incidents[i].Key != want {
			t.Errorf("incidents[%d].Key = %q, want %q", i, incidents[i].Key, want)
		}
	}
}

func TestSynthesize_UpdatesInPlace(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	upsert(t, store, "a1", "SSH_BRUTE_FORCE", "203.0.113.10", 6, "12 failures")
	if _, _, err := svc.Synthesize(ctx); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	incidents, _ := store.Incidents(ctx)
	origID := incidents[0].ID
	if err := store.SetIncidentStatus(ctx, incidents[0].Key, soc.StatusInvestigating); err != nil {
		t.Fatalf("SetIncidentStatus: %v", err)
	}

	// alert escalates, incident is rewritten without a new row and
	// without touching the analyst-owned status
	upsert(t, store, "a1", "SSH_BRUTE_FORCE", "203.0.113.10", 9, "55 failures")
	created, updated, err := svc.Synthesize(ctx)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if created != 0 || updated != 1 {
		t.Fatalf("created, updated = %d, %d, want 0, 1", created, updated)
	}

	incidents, _ = store.Incidents(ctx)
	if len(incidents) != 1 {
		t.Fatalf("len(incidents) = %d, want 1", len(incidents))
	}
	if incidents[0].ID != origID {
		t.Errorf("ID changed: %q -> %q", origID, incidents[0].ID)
	}
	if incidents[0].Severity != 9 {
		t.Errorf("Severity = %d, want 9", incidents[0].Severity)
	}
	if incidents[0].Status != soc.StatusInvestigating {
		t.Errorf("Status = %q, want Investigating preserved", incidents[0].Status)
	}
}

func TestSynthesize_UnchangedIsNoop(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	upsert(t, store, "a1", "SSH_BRUTE_FORCE", "203.0.113.10", 6, "d")
	if _, _, err := svc.Synthesize(ctx); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	created, updated, err := svc.Synthesize(ctx)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if created != 0 || updated != 0 {
		t.Errorf("created, updated = %d, %d, want 0, 0", created, updated)
	}
}

func TestSynthesize_SkipsAlertsWithoutIP(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	upsert(t, store, "a1", "SSH_BRUTE_FORCE", "", 6, "no ip")
	created, _, err := svc.Synthesize(ctx)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
}

func TestCorrelate_EscalatesSharedIP(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	seed := []soc.Incident{
		{ID: "i1", Key: "INC-2026-000001", Status: soc.StatusNew, Severity: 6, PrimaryIP: "203.0.113.10", Fingerprint: "f1"},
		{ID: "i2", Key: "INC-2026-000002", Status: soc.StatusTriage, Severity: 7, PrimaryIP: "203.0.113.10", Fingerprint: "f2"},
		{ID: "i3", Key: "INC-2026-000003", Status: soc.StatusNew, Severity: 5, PrimaryIP: "198.51.100.7", Fingerprint: "f3"},
	}
	for i := range seed {
		if err := store.InsertIncident(ctx, &seed[i]); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}

	escalated, err := svc.Correlate(ctx)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if escalated != 2 {
		t.Errorf("escalated = %d, want 2", escalated)
	}

	// both shared-IP incidents end at max+1 = 8
	for _, key := range []string{"INC-2026-000001", "INC-2026-000002"} {
		inc, _, _ := store.IncidentByKey(ctx, key)
		if inc.Severity != 8 {
			t.Errorf("%s severity = %d, want 8", key, inc.Severity)
		}
	}
	// lone incident untouched
	inc, _, _ := store.IncidentByKey(ctx, "INC-2026-000003")
	if inc.Severity != 5 {
		t.Errorf("lone incident severity = %d, want 5", inc.Severity)
	}
}

func TestCorrelate_CapsAtMaxSeverity(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	seed := []soc.Incident{
		{ID: "i1", Key: "k1", Status: soc.StatusNew, Severity: 9, PrimaryIP: "203.0.113.10", Fingerprint: "f1"},
		{ID: "i2", Key: "k2", Status: soc.StatusNew, Severity: 4, PrimaryIP: "203.0.113.10", Fingerprint: "f2"},
	}
	for i := range seed {
		if err := store.InsertIncident(ctx, &seed[i]); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}

	if _, err := svc.Correlate(ctx); err != nil {
		t.Fatalf("Correlate: %v", err)
	}

	inc, _, _ := store.IncidentByKey(ctx, "k1")
	if inc.Severity != 9 {
		t.Errorf("k1 severity = %d, want capped 9", inc.Severity)
	}
	inc, _, _ = store.IncidentByKey(ctx, "k2")
	if inc.Severity != 9 {
		t.Errorf("k2 severity = %d, want 9", inc.Severity)
	}
}

func TestCorrelate_ClosedIncidentsExcluded(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	seed := []soc.Incident{
		{ID: "i1", Key: "k1", Status: soc.StatusClosed, Severity: 8, PrimaryIP: "203.0.113.10", Fingerprint: "f1"},
		{ID: "i2", Key: "k2", Status: soc.StatusNew, Severity: 4, PrimaryIP: "203.0.113.10", Fingerprint: "f2"},
	}
	for i := range seed {
		if err := store.InsertIncident(ctx, &seed[i]); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}

	// only one open incident on the IP, no group forms
	escalated, err := svc.Correlate(ctx)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if escalated != 0 {
		t.Errorf("escalated = %d, want 0", escalated)
	}
}

func TestCorrelate_FixedPoint(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	seed := []soc.Incident{
		{ID: "i1", Key: "k1", Status: soc.StatusNew, Severity: 6, PrimaryIP: "203.0.113.10", Fingerprint: "f1"},
		{ID: "i2", Key: "k2", Status: soc.StatusNew, Severity: 7, PrimaryIP: "203.0.113.10", Fingerprint: "f2"},
	}
	for i := range seed {
		if err := store.InsertIncident(ctx, &seed[i]); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}

	if _, err := svc.Correlate(ctx); err != nil {
		t.Fatalf("first Correlate: %v", err)
	}
	escalated, err := svc.Correlate(ctx)
	if err != nil {
		t.Fatalf("second Correlate: %v", err)
	}
	if escalated != 0 {
		t.Errorf("second pass escalated = %d, want 0", escalated)
	}

	inc, _, _ := store.IncidentByKey(ctx, "k1")
	if inc.Severity != 8 {
		t.Errorf("severity = %d, want stable 8", inc.Severity)
	}
}

func TestSetStatus(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	if err := store.InsertIncident(ctx, &soc.Incident{ID: "i1", Key: "k1", Status: soc.StatusNew, PrimaryIP: "10.0.0.1"}); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	if err := svc.SetStatus(ctx, "k1", "Investigating"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	inc, _, _ := store.IncidentByKey(ctx, "k1")
	if inc.Status != soc.StatusInvestigating {
		t.Errorf("Status = %q, want Investigating", inc.Status)
	}

	// unknown status is rejected before any mutation
	err := svc.SetStatus(ctx, "k1", "Resolved")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	inc, _, _ = store.IncidentByKey(ctx, "k1")
	if inc.Status != soc.StatusInvestigating {
		t.Errorf("Status = %q, want unchanged Investigating", inc.Status)
	}

	// closed incidents can reopen: membership is the only rule
	if err := svc.SetStatus(ctx, "k1", "Closed"); err != nil {
		t.Fatalf("SetStatus Closed: %v", err)
	}
	if err := svc.SetStatus(ctx, "k1", "Triage"); err != nil {
		t.Fatalf("SetStatus reopen: %v", err)
	}
}

func TestSetStatus_UnknownIncident(t *testing.T) {
	t.Parallel()

	svc := newTestService(memstore.New())
	err := svc.SetStatus(context.Background(), "INC-2026-999999", "Closed")
	if !errors.Is(err, soc.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddNote(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store)
	ctx := context.Background()

	if err := store.InsertIncident(ctx, &soc.Incident{ID: "i1", Key: "k1", Status: soc.StatusNew, PrimaryIP: "10.0.0.1"}); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	if err := svc.AddNote(ctx, "k1", "willy", "blocked at the edge"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	notes, _ := store.NotesByIncident(ctx, "k1")
	if len(notes) != 1 {
		t.Fatalf("len(notes) = %d, want 1", len(notes))
	}
	if notes[0].Author != "willy" || notes[0].Note != "blocked at the edge" {
		t.Errorf("note = %+v", notes[0])
	}

	if err := svc.AddNote(ctx, "nope", "willy", "x"); !errors.Is(err, soc.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/casefile/internal/postgres"
	"github.com/linnemanlabs/casefile/internal/soc"
	"github.com/linnemanlabs/casefile/internal/soc/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("CASEFILE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CASEFILE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// uid makes IDs unique per test run; the test database persists rows.
func uid(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}

func TestRawLineToEvent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	source := uid("test-src")
	rl := &soc.RawLine{ID: uid("rl"), Source: source, Line: "some line"}
	if err := s.InsertRawLine(ctx, rl); err != nil {
		t.Fatalf("InsertRawLine: %v", err)
	}

	lines, err := s.UnparsedRawLines(ctx, source)
	if err != nil {
		t.Fatalf("UnparsedRawLines: %v", err)
	}
	if len(lines) != 1 || lines[0].ID != rl.ID {
		t.Fatalf("lines = %+v, want just %s", lines, rl.ID)
	}

	ev := &soc.Event{
		ID:        uid("ev"),
		RawLineID: rl.ID,
		Time:      time.Now().Truncate(time.Microsecond).UTC(),
		Type:      soc.EventSSHAuth,
		Product:   "linux",
		Host:      "ubuntu",
		SrcIP:     "203.0.113.10",
		Username:  "root",
		Outcome:   soc.OutcomeFail,
		Message:   "SSH failed password for root from 203.0.113.10",
	}
	fresh, err := s.InsertEvent(ctx, ev)
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if !fresh {
		t.Error("InsertEvent fresh = false, want true")
	}

	// second parse of the same raw line is a no-op
	dup := *ev
	dup.ID = uid("ev")
	fresh, err = s.InsertEvent(ctx, &dup)
	if err != nil {
		t.Fatalf("InsertEvent duplicate: %v", err)
	}
	if fresh {
		t.Error("InsertEvent fresh = true for duplicate raw line")
	}

	lines, err = s.UnparsedRawLines(ctx, source)
	if err != nil {
		t.Fatalf("UnparsedRawLines: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("lines = %+v, want none after linking", lines)
	}
}

func TestUpsertAlertIdentity(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rule := uid("TEST_RULE")
	now := time.Now().Truncate(time.Microsecond).UTC()

	first := &soc.Alert{ID: uid("al"), CreatedAt: now, RuleName: rule, Severity: 6, SrcIP: "203.0.113.10", Description: "first"}
	if err := s.UpsertAlert(ctx, first); err != nil {
		t.Fatalf("UpsertAlert first: %v", err)
	}

	second := &soc.Alert{ID: uid("al"), CreatedAt: now.Add(time.Minute), RuleName: rule, Severity: 8, SrcIP: "203.0.113.10", Description: "second"}
	if err := s.UpsertAlert(ctx, second); err != nil {
		t.Fatalf("UpsertAlert second: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("surviving ID = %q, want original %q", second.ID, first.ID)
	}

	alerts, err := s.AlertsByIP(ctx, "203.0.113.10")
	if err != nil {
		t.Fatalf("AlertsByIP: %v", err)
	}
	n := 0
	for _, al := range alerts {
		if al.RuleName == rule {
			n++
			if al.Severity != 8 || al.Description != "second" {
				t.Errorf("alert = %+v, want rewritten severity/description", al)
			}
		}
	}
	if n != 1 {
		t.Errorf("rows for rule = %d, want 1", n)
	}
}

func TestIncidentLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	key := uid("INC-TEST")
	fp := uid("fp")
	inc := &soc.Incident{
		ID:          uid("inc"),
		Key:         key,
		CreatedAt:   time.Now().Truncate(time.Microsecond).UTC(),
		Status:      soc.StatusNew,
		Severity:    6,
		PrimaryIP:   "198.51.100.7",
		Summary:     "summary",
		RuleName:    "TEST_RULE",
		Fingerprint: fp,
	}
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	got, ok, err := s.IncidentByKey(ctx, key)
	if err != nil {
		t.Fatalf("IncidentByKey: %v", err)
	}
	if !ok || got.Fingerprint != fp {
		t.Fatalf("got = %+v, ok = %v", got, ok)
	}

	if _, ok, _ := s.IncidentByFingerprint(ctx, fp); !ok {
		t.Error("IncidentByFingerprint ok = false")
	}

	if err := s.UpdateIncidentDetection(ctx, inc.ID, 8, "rewritten", "TEST_RULE", "198.51.100.7"); err != nil {
		t.Fatalf("UpdateIncidentDetection: %v", err)
	}
	got, _, _ = s.IncidentByKey(ctx, key)
	if got.Severity != 8 || got.Summary != "rewritten" {
		t.Errorf("got = %+v after detection update", got)
	}
	if got.Status != soc.StatusNew {
		t.Errorf("Status = %q, detection update must not touch status", got.Status)
	}

	if err := s.SetIncidentStatus(ctx, key, soc.StatusClosed); err != nil {
		t.Fatalf("SetIncidentStatus: %v", err)
	}
	got, _, _ = s.IncidentByKey(ctx, key)
	if got.Status != soc.StatusClosed {
		t.Errorf("Status = %q, want Closed", got.Status)
	}

	if err := s.SetIncidentStatus(ctx, uid("INC-MISSING"), soc.StatusTriage); err != soc.ErrNotFound {
		t.Errorf("SetIncidentStatus missing = %v, want ErrNotFound", err)
	}
}

func TestEscalateIncidents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// a distinct IP keeps this test's rows out of other runs' escalations
	ip := uid("192.0.2.1")
	now := time.Now().Truncate(time.Microsecond).UTC()
	mk := func(sev int, status soc.IncidentStatus) {
		inc := &soc.Incident{
			ID: uid("inc"), Key: uid("INC-ESC"), CreatedAt: now,
			Status: status, Severity: sev, PrimaryIP: ip, Fingerprint: uid("fp"),
		}
		if err := s.InsertIncident(ctx, inc); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}
	mk(6, soc.StatusNew)
	mk(7, soc.StatusTriage)
	mk(5, soc.StatusClosed)

	changed, err := s.EscalateIncidents(ctx, ip, 8)
	if err != nil {
		t.Fatalf("EscalateIncidents: %v", err)
	}
	if changed != 2 {
		t.Errorf("changed = %d, want 2 (closed row untouched)", changed)
	}

	changed, err = s.EscalateIncidents(ctx, ip, 8)
	if err != nil {
		t.Fatalf("EscalateIncidents second pass: %v", err)
	}
	if changed != 0 {
		t.Errorf("changed = %d on second pass, want 0", changed)
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	key := uid("INC-RUN")
	inc := &soc.Incident{
		ID: uid("inc"), Key: key, CreatedAt: time.Now().Truncate(time.Microsecond).UTC(),
		Status: soc.StatusNew, Severity: 6, PrimaryIP: "203.0.113.99", Fingerprint: uid("fp"),
	}
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	now := time.Now().Truncate(time.Microsecond).UTC()
	run := &soc.EnrichmentRun{
		ID:          uid("run"),
		IncidentKey: key,
		CreatedAt:   now,
		Status:      soc.RunQueued,
		Model:       "claude-test",
		RequestedBy: "tester",
	}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	run.Status = soc.RunExported
	run.ExportPath = "/tmp/export.json"
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, ok, err := s.RunByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("RunByID: %v", err)
	}
	if !ok {
		t.Fatal("RunByID ok = false")
	}
	if got.Status != soc.RunExported || got.ExportPath != "/tmp/export.json" {
		t.Errorf("got = %+v after update", got)
	}

	later := &soc.EnrichmentRun{
		ID: uid("run"), IncidentKey: key, CreatedAt: now.Add(time.Minute),
		Status: soc.RunQueued, RequestedBy: "tester",
	}
	if err := s.InsertRun(ctx, later); err != nil {
		t.Fatalf("InsertRun later: %v", err)
	}

	runs, err := s.RunsByIncident(ctx, key)
	if err != nil {
		t.Fatalf("RunsByIncident: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != later.ID {
		t.Errorf("runs = %+v, want newest first", runs)
	}
}

func TestNotes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	key := uid("INC-NOTE")
	inc := &soc.Incident{
		ID: uid("inc"), Key: key, CreatedAt: time.Now().Truncate(time.Microsecond).UTC(),
		Status: soc.StatusNew, Severity: 6, PrimaryIP: "203.0.113.98", Fingerprint: uid("fp"),
	}
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	now := time.Now().Truncate(time.Microsecond).UTC()
	first := &soc.IncidentNote{ID: uid("note"), IncidentKey: key, CreatedAt: now, Author: "willy", Note: "first"}
	second := &soc.IncidentNote{ID: uid("note"), IncidentKey: key, CreatedAt: now.Add(time.Minute), Author: "willy", Note: "second"}
	if err := s.AddNote(ctx, first); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if err := s.AddNote(ctx, second); err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	notes, err := s.NotesByIncident(ctx, key)
	if err != nil {
		t.Fatalf("NotesByIncident: %v", err)
	}
	if len(notes) != 2 || notes[0].Note != "second" {
		t.Errorf("notes = %+v, want newest first", notes)
	}
}

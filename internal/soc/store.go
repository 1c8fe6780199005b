package soc

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a referenced incident, run or note target
// does not exist. Callers surface it as an explicit not-found result;
// nothing is ever fabricated in its place.
var ErrNotFound = errors.New("not found")

// EventQuery selects events grouped by source IP. Zero-valued optional
// fields are ignored. Events with an empty source IP never match.
type EventQuery struct {
	Type       string
	Outcome    Outcome // optional
	HTTPStatus int     // optional
	MinCount   int     // HAVING count >= MinCount
}

// Store is the persistence boundary for the pipeline. Implementations
// must make UpsertAlert idempotent on (rule_name, src_ip), keep incident
// fingerprints unique, and treat a duplicate raw-line reference on
// InsertEvent as an already-processed signal rather than an error.
type Store interface {
	// Raw lines.
	InsertRawLine(ctx context.Context, rl *RawLine) error
	// UnparsedRawLines returns raw lines from source with no linked event.
	UnparsedRawLines(ctx context.Context, source string) ([]RawLine, error)

	// Events.
	// InsertEvent returns false when the raw line is already linked to an
	// event (duplicate parse pass); the event is not inserted.
	InsertEvent(ctx context.Context, ev *Event) (bool, error)
	CountEventsByIP(ctx context.Context, q EventQuery) (map[string]int, error)
	// EventsByIP returns events for ip ordered by event time.
	EventsByIP(ctx context.Context, ip string) ([]Event, error)

	// Alerts.
	// UpsertAlert inserts, or overwrites severity/description/created_at
	// of the existing (rule_name, src_ip) row. The row ID never changes.
	UpsertAlert(ctx context.Context, al *Alert) error
	Alerts(ctx context.Context) ([]Alert, error)
	AlertsByIP(ctx context.Context, ip string) ([]Alert, error)

	// Incidents.
	InsertIncident(ctx context.Context, inc *Incident) error
	IncidentByFingerprint(ctx context.Context, fp string) (*Incident, bool, error)
	IncidentByKey(ctx context.Context, key string) (*Incident, bool, error)
	Incidents(ctx context.Context) ([]Incident, error)
	// OpenIncidents returns incidents whose status is not Closed and whose
	// primary IP is non-empty.
	OpenIncidents(ctx context.Context) ([]Incident, error)
	// UpdateIncidentDetection overwrites the detection-owned fields.
	// Status is untouched.
	UpdateIncidentDetection(ctx context.Context, id string, severity int, summary, ruleName, primaryIP string) error
	SetIncidentStatus(ctx context.Context, key string, status IncidentStatus) error
	// EscalateIncidents raises every non-Closed incident for ip with
	// severity strictly below target up to target. Returns rows changed.
	EscalateIncidents(ctx context.Context, ip string, target int) (int, error)
	CountIncidentKeys(ctx context.Context, prefix string) (int, error)

	// Enrichment runs.
	InsertRun(ctx context.Context, r *EnrichmentRun) error
	UpdateRun(ctx context.Context, r *EnrichmentRun) error
	RunByID(ctx context.Context, id string) (*EnrichmentRun, bool, error)
	// RunsByIncident returns runs for key, newest first.
	RunsByIncident(ctx context.Context, key string) ([]EnrichmentRun, error)

	// Notes.
	AddNote(ctx context.Context, n *IncidentNote) error
	// NotesByIncident returns notes for key, newest first.
	NotesByIncident(ctx context.Context, key string) ([]IncidentNote, error)
}

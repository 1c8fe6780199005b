package soc

import "time"

// Outcome is the result recorded on a normalized event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// Well-known event types. The set is open; parsers may add more.
const (
	EventSSHAuth    = "ssh_auth"
	EventHTTPAccess = "http_access"
)

// MaxSeverity caps every alert and incident severity.
const MaxSeverity = 9

// RawLine is one unparsed log line tagged with its source label.
// Immutable once stored.
type RawLine struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Line   string `json:"line"`
}

// Event is a normalized record derived from exactly one raw line.
// Immutable after creation.
type Event struct {
	ID        string    `json:"id"`
	RawLineID string    `json:"raw_line_id"`
	Time      time.Time `json:"event_time"`
	Type      string    `json:"event_type"`
	Product   string    `json:"product"`
	Host      string    `json:"host"`
	SrcIP     string    `json:"src_ip"`
	Username  string    `json:"username,omitempty"`
	// HTTPStatus is 0 for non-HTTP events. The status also appears in
	// Message text for HTTP events.
	HTTPStatus int     `json:"http_status,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message"`
}

// Alert is a rule finding. Identity is (RuleName, SrcIP): re-evaluation
// overwrites severity, description and created_at in place.
type Alert struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	RuleName    string    `json:"rule_name"`
	Severity    int       `json:"severity"`
	SrcIP       string    `json:"src_ip"`
	Description string    `json:"description"`
}

// IncidentStatus is the flat operator-driven incident state.
type IncidentStatus string

const (
	StatusNew           IncidentStatus = "New"
	StatusTriage        IncidentStatus = "Triage"
	StatusInvestigating IncidentStatus = "Investigating"
	StatusContained     IncidentStatus = "Contained"
	StatusClosed        IncidentStatus = "Closed"
)

// Valid reports whether s is a member of the allowed status set.
// There is no transition ordering beyond membership.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusNew, StatusTriage, StatusInvestigating, StatusContained, StatusClosed:
		return true
	}
	return false
}

// Incident is an analyst-facing case, deduplicated per fingerprint.
type Incident struct {
	ID            string         `json:"id"`
	Key           string         `json:"incident_key"`
	CreatedAt     time.Time      `json:"created_at"`
	Status        IncidentStatus `json:"status"`
	Severity      int            `json:"severity"`
	PrimaryIP     string         `json:"primary_ip"`
	Summary       string         `json:"summary"`
	RuleName      string         `json:"rule_name"`
	Fingerprint   string         `json:"fingerprint"`
	SourceAlertID string         `json:"source_alert_id"`
}

// Fingerprint is the incident deduplication key, mirroring alert identity.
func Fingerprint(ruleName, srcIP string) string {
	return ruleName + "|" + srcIP
}

// ClampSeverity bounds sev to [floor, MaxSeverity].
func ClampSeverity(sev, floor int) int {
	if sev < floor {
		sev = floor
	}
	if sev > MaxSeverity {
		sev = MaxSeverity
	}
	return sev
}

// RunStatus tracks where an enrichment run is in its lifecycle.
type RunStatus string

const (
	// RunQueued means the run record exists but no package was exported yet.
	RunQueued RunStatus = "queued"

	// RunExported means the export package was written and the run is
	// waiting for the enrichment engine's output file.
	RunExported RunStatus = "exported"

	// RunCompleted means the output file was observed. Terminal.
	RunCompleted RunStatus = "completed"

	// RunFailed means export or enrichment failed. Terminal; a stuck run
	// requires a brand-new run, never a reset to queued.
	RunFailed RunStatus = "failed"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// EnrichmentRun is one attempt to produce an analyst report for an
// incident. An incident may have many runs, each independently tracked
// with its own export and output paths.
type EnrichmentRun struct {
	ID            string    `json:"id"`
	IncidentKey   string    `json:"incident_key"`
	CreatedAt     time.Time `json:"created_at"`
	Status        RunStatus `json:"status"`
	Model         string    `json:"model,omitempty"`
	RequestedBy   string    `json:"requested_by,omitempty"`
	AnalystPrompt string    `json:"analyst_prompt,omitempty"`
	ExportPath    string    `json:"export_path,omitempty"`
	// OutputPath is only meaningful once Status is completed.
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IncidentNote is a free-text analyst annotation folded into export
// packages.
type IncidentNote struct {
	ID          string    `json:"id"`
	IncidentKey string    `json:"incident_key"`
	CreatedAt   time.Time `json:"created_at"`
	Author      string    `json:"author"`
	Note        string    `json:"note"`
}

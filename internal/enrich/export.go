package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// RequestedFields is the report shape asked of the analysis engine, in
// presentation order.
var RequestedFields = []string{
	"executive_summary",
	"technical_summary",
	"attack_hypothesis",
	"timeline",
	"triage_checklist",
	"containment_recommendations",
	"remediation_recommendations",
	"assumptions",
	"confidence",
}

// Constraints accompany every package so downstream analysis stays
// scoped to defensive work.
var Constraints = []string{
	"Local/lab logs only",
	"No offensive hacking or exploitation",
	"Focus on SOC analyst workflow realism",
	"If something is unknown, state assumptions",
}

// Package is the JSON payload exported for one incident.
type Package struct {
	Incident        PackageIncident `json:"incident"`
	Alerts          []PackageAlert  `json:"alerts"`
	Timeline        []PackageEvent  `json:"timeline"`
	Notes           []PackageNote   `json:"notes,omitempty"`
	AnalystPrompt   string          `json:"analyst_prompt,omitempty"`
	PriorReport     json.RawMessage `json:"prior_report,omitempty"`
	Constraints     []string        `json:"constraints"`
	RequestedOutput RequestedOutput `json:"requested_output"`
}

type PackageIncident struct {
	IncidentKey string `json:"incident_key"`
	CreatedAt   string `json:"created_at"`
	Status      string `json:"status"`
	Severity    int    `json:"severity"`
	PrimaryIP   string `json:"primary_ip"`
	Summary     string `json:"summary"`
}

type PackageAlert struct {
	ID          string `json:"id"`
	RuleName    string `json:"rule_name"`
	CreatedAt   string `json:"created_at"`
	Severity    int    `json:"severity"`
	SrcIP       string `json:"src_ip"`
	Description string `json:"description"`
}

type PackageEvent struct {
	Time      string `json:"time"`
	EventType string `json:"event_type"`
	Product   string `json:"product"`
	Host      string `json:"host"`
	SrcIP     string `json:"src_ip"`
	Username  string `json:"username,omitempty"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
}

type PackageNote struct {
	CreatedAt string `json:"created_at"`
	Author    string `json:"author"`
	Note      string `json:"note"`
}

type RequestedOutput struct {
	Format string   `json:"format"`
	Fields []string `json:"fields"`
}

// Exporter assembles incident packages from the store.
type Exporter struct {
	store soc.Store
	paths Paths
}

// NewExporter creates a package exporter rooted at paths.
func NewExporter(store soc.Store, paths Paths) *Exporter {
	return &Exporter{store: store, paths: paths}
}

// Build assembles the package for inc. Alerts and events are gathered
// by the incident's primary IP; the event timeline is ordered oldest
// first. A prior report, if one exists and parses, rides along so a
// re-analysis can refine rather than restart.
func (e *Exporter) Build(ctx context.Context, inc *soc.Incident, analystPrompt string) (*Package, error) {
	alerts, err := e.store.AlertsByIP(ctx, inc.PrimaryIP)
	if err != nil {
		return nil, fmt.Errorf("load alerts for %s: %w", inc.Key, err)
	}
	events, err := e.store.EventsByIP(ctx, inc.PrimaryIP)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", inc.Key, err)
	}
	notes, err := e.store.NotesByIncident(ctx, inc.Key)
	if err != nil {
		return nil, fmt.Errorf("load notes for %s: %w", inc.Key, err)
	}

	pkg := &Package{
		Incident: PackageIncident{
			IncidentKey: inc.Key,
			CreatedAt:   inc.CreatedAt.Format(time.RFC3339),
			Status:      string(inc.Status),
			Severity:    inc.Severity,
			PrimaryIP:   inc.PrimaryIP,
			Summary:     inc.Summary,
		},
		AnalystPrompt: analystPrompt,
		Constraints:   Constraints,
		RequestedOutput: RequestedOutput{
			Format: "json",
			Fields: RequestedFields,
		},
	}

	for _, al := range alerts {
		pkg.Alerts = append(pkg.Alerts, PackageAlert{
			ID:          al.ID,
			RuleName:    al.RuleName,
			CreatedAt:   al.CreatedAt.Format(time.RFC3339),
			Severity:    al.Severity,
			SrcIP:       al.SrcIP,
			Description: al.Description,
		})
	}
	for _, ev := range events {
		pkg.Timeline = append(pkg.Timeline, PackageEvent{
			Time:      ev.Time.Format(time.RFC3339),
			EventType: ev.Type,
			Product:   ev.Product,
			Host:      ev.Host,
			SrcIP:     ev.SrcIP,
			Username:  ev.Username,
			Outcome:   string(ev.Outcome),
			Message:   ev.Message,
		})
	}
	for _, n := range notes {
		pkg.Notes = append(pkg.Notes, PackageNote{
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
			Author:    n.Author,
			Note:      n.Note,
		})
	}

	if prior, err := os.ReadFile(e.paths.ReportPath(inc.Key)); err == nil && json.Valid(prior) {
		pkg.PriorReport = prior
	}

	return pkg, nil
}

// Write marshals pkg to path, creating parent directories as needed.
func (e *Exporter) Write(pkg *Package, path string) error {
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal package: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write package: %w", err)
	}
	return nil
}

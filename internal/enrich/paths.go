package enrich

import (
	"fmt"
	"path/filepath"
)

// Paths lays out the enrichment file tree under a data directory.
type Paths struct {
	DataDir string
}

func (p Paths) InboxDir() string  { return filepath.Join(p.DataDir, "ai", "inbox") }
func (p Paths) OutboxDir() string { return filepath.Join(p.DataDir, "ai", "outbox") }

// PackagePath is the incident-level package; its mtime drives staleness.
func (p Paths) PackagePath(key string) string {
	return filepath.Join(p.InboxDir(), key+".json")
}

// ReportPath is the incident-level report, always the latest analysis.
func (p Paths) ReportPath(key string) string {
	return filepath.Join(p.OutboxDir(), key+".report.json")
}

// RunPackagePath is the per-run snapshot of the exported package.
func (p Paths) RunPackagePath(key, runID string) string {
	return filepath.Join(p.InboxDir(), fmt.Sprintf("%s.run-%s.json", key, runID))
}

// RunReportPath is the per-run report output.
func (p Paths) RunReportPath(key, runID string) string {
	return filepath.Join(p.OutboxDir(), fmt.Sprintf("%s.run-%s.report.json", key, runID))
}

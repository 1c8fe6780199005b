package detect

import (
	"context"
	"fmt"
	"net/http"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// Rule names are part of alert identity; changing one orphans its alerts.
const (
	RuleBruteForce = "SSH_BRUTE_FORCE"
	RuleWebScan    = "WEB_404_SCANNING"
)

// EventCounter is the slice of the store a rule evaluates against.
type EventCounter interface {
	CountEventsByIP(ctx context.Context, q soc.EventQuery) (map[string]int, error)
}

// Rule scans normalized events for one pattern and maps qualifying
// source IPs to severities and descriptions.
type Rule interface {
	Name() string
	// Evaluate returns qualifying source IPs with their event counts.
	Evaluate(ctx context.Context, events EventCounter) (map[string]int, error)
	// Severity maps a count to a severity within the rule's bands.
	Severity(count int) int
	// Describe renders the alert description for a qualifying IP.
	Describe(ip string, count int) string
}

type bruteForceRule struct {
	cfg RuleConfig
}

// NewBruteForceRule detects repeated failed SSH logins per source IP.
func NewBruteForceRule(cfg RuleConfig) Rule { return &bruteForceRule{cfg: cfg} }

func (r *bruteForceRule) Name() string { return RuleBruteForce }

func (r *bruteForceRule) Evaluate(ctx context.Context, events EventCounter) (map[string]int, error) {
	return events.CountEventsByIP(ctx, soc.EventQuery{
		Type:     soc.EventSSHAuth,
		Outcome:  soc.OutcomeFail,
		MinCount: r.cfg.Threshold,
	})
}

func (r *bruteForceRule) Severity(count int) int {
	return soc.ClampSeverity(r.cfg.severity(count), r.cfg.floor())
}

func (r *bruteForceRule) Describe(ip string, count int) string {
	return fmt.Sprintf("SSH brute force suspected: %d failed logins from %s", count, ip)
}

type webScanRule struct {
	cfg RuleConfig
}

// NewWebScanRule detects bursts of HTTP 404 responses per source IP.
func NewWebScanRule(cfg RuleConfig) Rule { return &webScanRule{cfg: cfg} }

func (r *webScanRule) Name() string { return RuleWebScan }

func (r *webScanRule) Evaluate(ctx context.Context, events EventCounter) (map[string]int, error) {
	return events.CountEventsByIP(ctx, soc.EventQuery{
		Type:       soc.EventHTTPAccess,
		HTTPStatus: http.StatusNotFound,
		MinCount:   r.cfg.Threshold,
	})
}

func (r *webScanRule) Severity(count int) int {
	return soc.ClampSeverity(r.cfg.severity(count), r.cfg.floor())
}

func (r *webScanRule) Describe(ip string, count int) string {
	return fmt.Sprintf("Web scanning suspected: %d HTTP 404 responses from %s", count, ip)
}

// Rules builds the full rule set from cfg.
func Rules(cfg Config) []Rule {
	return []Rule{
		NewBruteForceRule(cfg.BruteForce),
		NewWebScanRule(cfg.WebScan),
	}
}

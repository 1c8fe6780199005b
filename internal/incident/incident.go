// Package incident synthesizes incidents from alerts, correlates them
// across shared indicators, and owns the operator-driven status
// lifecycle.
package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// ErrInvalidStatus is returned for a status outside the allowed set.
// Rejected before any mutation.
var ErrInvalidStatus = fmt.Errorf("invalid incident status")

// Service is the business boundary for incident operations.
type Service struct {
	store  soc.Store
	logger log.Logger
	now    func() time.Time
}

// NewService creates an incident service.
func NewService(store soc.Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Summary renders the deterministic incident summary for an alert.
func Summary(al *soc.Alert) string {
	return fmt.Sprintf("%s detected from %s — %s", al.RuleName, al.SrcIP, al.Description)
}

// Synthesize maps every alert to exactly one incident via its
// fingerprint: update in place when severity or summary drifted, insert
// with a fresh incident key otherwise. Alerts without a source IP are
// skipped. Status is never touched here.
func (s *Service) Synthesize(ctx context.Context) (created, updated int, err error) {
	alerts, err := s.store.Alerts(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load alerts: %w", err)
	}

	for i := range alerts {
		al := &alerts[i]
		if al.SrcIP == "" {
			continue
		}

		fp := soc.Fingerprint(al.RuleName, al.SrcIP)
		summary := Summary(al)

		existing, ok, err := s.store.IncidentByFingerprint(ctx, fp)
		if err != nil {
			return created, updated, fmt.Errorf("lookup incident %s: %w", fp, err)
		}

		if ok {
			if existing.Severity == al.Severity && existing.Summary == summary {
				continue
			}
			if err := s.store.UpdateIncidentDetection(ctx, existing.ID, al.Severity, summary, al.RuleName, al.SrcIP); err != nil {
				s.logger.Error(ctx, err, "incident update failed", "fingerprint", fp)
				continue
			}
			updated++
			continue
		}

		key, err := s.nextIncidentKey(ctx)
		if err != nil {
			return created, updated, err
		}

		inc := &soc.Incident{
			ID:            ulid.Make().String(),
			Key:           key,
			CreatedAt:     s.now(),
			Status:        soc.StatusNew,
			Severity:      al.Severity,
			PrimaryIP:     al.SrcIP,
			Summary:       summary,
			RuleName:      al.RuleName,
			Fingerprint:   fp,
			SourceAlertID: al.ID,
		}
		if err := s.store.InsertIncident(ctx, inc); err != nil {
			s.logger.Error(ctx, err, "incident insert failed", "fingerprint", fp, "incident_key", key)
			continue
		}
		created++
	}

	s.logger.Info(ctx, "incident synthesis complete", "created", created, "updated", updated)
	return created, updated, nil
}

// nextIncidentKey allocates the next INC-<year>-<seq> key for the
// current year. Monotonic per year; a rolled-back insert may reuse its
// number, which is tolerated.
func (s *Service) nextIncidentKey(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("INC-%d-", s.now().Year())
	n, err := s.store.CountIncidentKeys(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("count incident keys: %w", err)
	}
	return fmt.Sprintf("%s%06d", prefix, n+1), nil
}

// Correlate escalates open incidents sharing a source IP: repeated
// activity from one indicator is itself evidence. For each IP with two
// or more open incidents, every one below min(9, maxSeverity+1) is
// raised to it. Severities only ever increase, so the pass is a fixed
// point on its second run.
func (s *Service) Correlate(ctx context.Context) (int, error) {
	open, err := s.store.OpenIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open incidents: %w", err)
	}

	maxSev := make(map[string]int)
	members := make(map[string]int)
	for _, inc := range open {
		members[inc.PrimaryIP]++
		if inc.Severity > maxSev[inc.PrimaryIP] {
			maxSev[inc.PrimaryIP] = inc.Severity
		}
	}

	escalated := 0
	for ip, n := range members {
		if n < 2 {
			continue
		}
		target := maxSev[ip] + 1
		if target > soc.MaxSeverity {
			target = soc.MaxSeverity
		}
		changed, err := s.store.EscalateIncidents(ctx, ip, target)
		if err != nil {
			s.logger.Error(ctx, err, "escalation failed", "primary_ip", ip, "target", target)
			continue
		}
		escalated += changed
	}

	s.logger.Info(ctx, "correlation pass complete", "escalated", escalated)
	return escalated, nil
}

// SetStatus applies an operator status change. Any member of the status
// set may follow any other; everything else is rejected before any
// mutation.
func (s *Service) SetStatus(ctx context.Context, key, status string) error {
	st := soc.IncidentStatus(status)
	if !st.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.store.SetIncidentStatus(ctx, key, st); err != nil {
		return err
	}
	s.logger.Info(ctx, "incident status updated", "incident_key", key, "status", status)
	return nil
}

// AddNote records an analyst note against an incident.
func (s *Service) AddNote(ctx context.Context, key, author, note string) error {
	if _, ok, err := s.store.IncidentByKey(ctx, key); err != nil {
		return err
	} else if !ok {
		return soc.ErrNotFound
	}
	return s.store.AddNote(ctx, &soc.IncidentNote{
		ID:          ulid.Make().String(),
		IncidentKey: key,
		CreatedAt:   s.now(),
		Author:      author,
		Note:        note,
	})
}

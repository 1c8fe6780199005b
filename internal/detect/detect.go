// Package detect evaluates detection rules over normalized events and
// upserts alerts.
//
// Alert identity is (rule_name, src_ip): re-running a rule with unchanged
// events rewrites the same row, so passes are idempotent and safe to
// schedule repeatedly.
package detect

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// Service runs detection passes against the store.
type Service struct {
	store  soc.Store
	rules  []Rule
	logger log.Logger
	now    func() time.Time
}

// NewService creates a detection service with the given rule set.
func NewService(store soc.Store, rules []Rule, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, rules: rules, logger: logger, now: time.Now}
}

// Run evaluates every rule and upserts one alert per qualifying
// (rule, source IP). A failing rule never aborts the other rules; the
// per-rule upsert count is returned keyed by rule name.
func (s *Service) Run(ctx context.Context) (map[string]int, error) {
	upserts := make(map[string]int, len(s.rules))
	var firstErr error

	for _, rule := range s.rules {
		n, err := s.runRule(ctx, rule)
		upserts[rule.Name()] = n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return upserts, firstErr
}

func (s *Service) runRule(ctx context.Context, rule Rule) (int, error) {
	counts, err := rule.Evaluate(ctx, s.store)
	if err != nil {
		s.logger.Error(ctx, err, "rule evaluation failed", "rule", rule.Name())
		return 0, err
	}

	upserted := 0
	for ip, count := range counts {
		al := &soc.Alert{
			ID:          ulid.Make().String(),
			CreatedAt:   s.now(),
			RuleName:    rule.Name(),
			Severity:    rule.Severity(count),
			SrcIP:       ip,
			Description: rule.Describe(ip, count),
		}
		if err := s.store.UpsertAlert(ctx, al); err != nil {
			// one bad IP never aborts the rule
			s.logger.Error(ctx, err, "alert upsert failed", "rule", rule.Name(), "src_ip", ip)
			continue
		}
		upserted++
	}

	s.logger.Info(ctx, "detection pass complete", "rule", rule.Name(), "alerts", upserted)
	return upserted, nil
}

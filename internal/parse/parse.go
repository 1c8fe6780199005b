// Package parse converts raw log lines into normalized events.
//
// Parsers are pure: a line either yields one event or is classified as
// non-matching and silently dropped. The batch pass only reads raw lines
// with no linked event, and the store's raw-line uniqueness turns any
// concurrent double-parse into a no-op.
package parse

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// Parser turns one raw line from its source into zero or one event.
type Parser interface {
	// Source is the raw-line source label this parser consumes.
	Source() string
	// Parse returns the event and true, or false for a non-matching line.
	Parse(line string) (*soc.Event, bool)
}

// Service runs parse passes against the store.
type Service struct {
	store  soc.Store
	logger log.Logger
}

// NewService creates a parse service.
func NewService(store soc.Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, logger: logger}
}

// Run parses every unparsed raw line for p's source and inserts the
// resulting events. Non-matching lines are skipped, not errors. Returns
// the number of events inserted.
func (s *Service) Run(ctx context.Context, p Parser) (int, error) {
	lines, err := s.store.UnparsedRawLines(ctx, p.Source())
	if err != nil {
		return 0, fmt.Errorf("load unparsed lines for %s: %w", p.Source(), err)
	}

	inserted := 0
	for _, rl := range lines {
		ev, ok := p.Parse(rl.Line)
		if !ok {
			continue
		}
		ev.ID = ulid.Make().String()
		ev.RawLineID = rl.ID

		fresh, err := s.store.InsertEvent(ctx, ev)
		if err != nil {
			// best effort: one bad row never aborts the pass
			s.logger.Error(ctx, err, "insert event", "raw_line_id", rl.ID, "source", p.Source())
			continue
		}
		if fresh {
			inserted++
		}
	}

	s.logger.Info(ctx, "parse pass complete", "source", p.Source(), "lines", len(lines), "events", inserted)
	return inserted, nil
}

// Package pipeline sequences the batch stages: parse raw lines, run
// detection rules, synthesize and correlate incidents, then re-enrich
// stale ones. Every stage is idempotent, so a pass can run on any
// schedule and a failed stage never poisons the next pass.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/casefile/internal/detect"
	"github.com/linnemanlabs/casefile/internal/enrich"
	"github.com/linnemanlabs/casefile/internal/incident"
	"github.com/linnemanlabs/casefile/internal/parse"
)

// Pipeline runs the full batch sequence.
type Pipeline struct {
	parser    *parse.Service
	parsers   []parse.Parser
	detector  *detect.Service
	incidents *incident.Service
	runs      *enrich.Runs // nil disables the enrichment stage
	logger    log.Logger
	metrics   *Metrics // optional
}

// New assembles a pipeline. runs may be nil to skip batch enrichment,
// metrics may be nil to skip instrumentation.
func New(
	parser *parse.Service,
	parsers []parse.Parser,
	detector *detect.Service,
	incidents *incident.Service,
	runs *enrich.Runs,
	logger log.Logger,
	metrics *Metrics,
) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		parser:    parser,
		parsers:   parsers,
		detector:  detector,
		incidents: incidents,
		runs:      runs,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes one full pass. Stages run in order regardless of earlier
// stage errors; all errors are joined into the return value.
func (p *Pipeline) Run(ctx context.Context) error {
	var errs []error

	errs = append(errs, p.stage(ctx, "parse", p.parseStage))
	errs = append(errs, p.stage(ctx, "detect", p.detectStage))
	errs = append(errs, p.stage(ctx, "synthesize", p.synthesizeStage))
	errs = append(errs, p.stage(ctx, "correlate", p.correlateStage))
	if p.runs != nil {
		errs = append(errs, p.stage(ctx, "enrich", p.enrichStage))
	}

	return errors.Join(errs...)
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)

	if p.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		p.metrics.PassesTotal.WithLabelValues(name, result).Inc()
		p.metrics.PassDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.Error(ctx, err, "pipeline stage failed", "stage", name)
	}
	return err
}

func (p *Pipeline) parseStage(ctx context.Context) error {
	var errs []error
	for _, pr := range p.parsers {
		n, err := p.parser.Run(ctx, pr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p.metrics != nil {
			p.metrics.EventsParsed.WithLabelValues(pr.Source()).Add(float64(n))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) detectStage(ctx context.Context) error {
	upserts, err := p.detector.Run(ctx)
	if p.metrics != nil {
		for rule, n := range upserts {
			p.metrics.AlertsUpserted.WithLabelValues(rule).Add(float64(n))
		}
	}
	return err
}

func (p *Pipeline) synthesizeStage(ctx context.Context) error {
	created, updated, err := p.incidents.Synthesize(ctx)
	if p.metrics != nil {
		p.metrics.IncidentsOpened.Add(float64(created))
		p.metrics.IncidentsTouched.Add(float64(updated))
	}
	return err
}

func (p *Pipeline) correlateStage(ctx context.Context) error {
	escalated, err := p.incidents.Correlate(ctx)
	if p.metrics != nil {
		p.metrics.Escalations.Add(float64(escalated))
	}
	return err
}

func (p *Pipeline) enrichStage(ctx context.Context) error {
	_, _, err := p.runs.EnrichStale(ctx)
	return err
}

// Every runs a pass immediately, then on each tick until ctx is done.
func (p *Pipeline) Every(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if err := p.Run(ctx); err != nil {
			p.logger.Error(ctx, err, "pipeline pass finished with errors")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

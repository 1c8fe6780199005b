package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// Hooks are optional observation callbacks for run state transitions.
type Hooks struct {
	RunTransition func(status soc.RunStatus)
}

func (h Hooks) transition(st soc.RunStatus) {
	if h.RunTransition != nil {
		h.RunTransition(st)
	}
}

// Runs manages enrichment runs: queue, export, analyze, and the lazy
// completion check against the outbox.
//
// With a nil engine the manager operates in export-only mode: runs park
// at exported and complete once an output file shows up, however it got
// there.
type Runs struct {
	store  soc.Store
	exp    *Exporter
	engine Engine
	paths  Paths
	model  string
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewRuns creates a run manager. engine may be nil for export-only mode.
func NewRuns(store soc.Store, engine Engine, paths Paths, model string, logger log.Logger, hooks Hooks) *Runs {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runs{
		store:  store,
		exp:    NewExporter(store, paths),
		engine: engine,
		paths:  paths,
		model:  model,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
}

// Create starts a new enrichment run for the incident at key. The run
// is persisted queued, the package export happens before Create
// returns, and analysis runs in the background. Export failure parks
// the run at failed with the verbatim error; it never blocks other
// incidents' runs.
func (r *Runs) Create(ctx context.Context, key, requestedBy, analystPrompt string) (*soc.EnrichmentRun, error) {
	inc, ok, err := r.store.IncidentByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, soc.ErrNotFound
	}

	run := &soc.EnrichmentRun{
		ID:            ulid.Make().String(),
		IncidentKey:   key,
		CreatedAt:     r.now(),
		Status:        soc.RunQueued,
		Model:         r.model,
		RequestedBy:   requestedBy,
		AnalystPrompt: analystPrompt,
	}
	if err := r.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	r.hooks.transition(soc.RunQueued)

	pkg, err := r.export(ctx, inc, run)
	if err != nil {
		r.fail(ctx, run, err)
		return run, nil
	}

	if r.engine != nil {
		// The run must survive the originating request.
		go r.analyze(context.WithoutCancel(ctx), *run, pkg)
	}
	return run, nil
}

// export builds the package and writes both the per-run snapshot and
// the incident-level package. The latter refreshes the staleness clock.
func (r *Runs) export(ctx context.Context, inc *soc.Incident, run *soc.EnrichmentRun) (*Package, error) {
	pkg, err := r.exp.Build(ctx, inc, run.AnalystPrompt)
	if err != nil {
		return nil, err
	}

	runPath := r.paths.RunPackagePath(run.IncidentKey, run.ID)
	if err := r.exp.Write(pkg, runPath); err != nil {
		return nil, err
	}
	if err := r.exp.Write(pkg, r.paths.PackagePath(run.IncidentKey)); err != nil {
		return nil, err
	}

	run.Status = soc.RunExported
	run.ExportPath = runPath
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	r.hooks.transition(soc.RunExported)
	r.logger.Info(ctx, "incident package exported",
		"incident_key", run.IncidentKey, "run_id", run.ID, "path", runPath)
	return pkg, nil
}

func (r *Runs) analyze(ctx context.Context, run soc.EnrichmentRun, pkg *Package) {
	raw, err := r.engine.Analyze(ctx, pkg)
	if err != nil {
		r.fail(ctx, &run, err)
		return
	}

	outPath := r.paths.RunReportPath(run.IncidentKey, run.ID)
	if err := writeReport(raw, outPath); err != nil {
		r.fail(ctx, &run, err)
		return
	}
	if err := writeReport(raw, r.paths.ReportPath(run.IncidentKey)); err != nil {
		r.fail(ctx, &run, err)
		return
	}

	run.Status = soc.RunCompleted
	run.OutputPath = outPath
	if err := r.store.UpdateRun(ctx, &run); err != nil {
		r.logger.Error(ctx, err, "run completion not persisted", "run_id", run.ID)
		return
	}
	r.hooks.transition(soc.RunCompleted)
	r.logger.Info(ctx, "enrichment run completed",
		"incident_key", run.IncidentKey, "run_id", run.ID, "path", outPath)
}

func (r *Runs) fail(ctx context.Context, run *soc.EnrichmentRun, cause error) {
	run.Status = soc.RunFailed
	run.Error = cause.Error()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error(ctx, err, "run failure not persisted", "run_id", run.ID)
	}
	r.hooks.transition(soc.RunFailed)
	r.logger.Error(ctx, cause, "enrichment run failed",
		"incident_key", run.IncidentKey, "run_id", run.ID)
}

// Get returns the run, first folding in a lazy completion check: an
// exported run whose expected output file now exists flips to completed.
func (r *Runs) Get(ctx context.Context, id string) (*soc.EnrichmentRun, bool, error) {
	run, ok, err := r.store.RunByID(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	if err := r.refresh(ctx, run); err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// ForIncident returns the incident's runs newest first, each refreshed.
func (r *Runs) ForIncident(ctx context.Context, key string) ([]soc.EnrichmentRun, error) {
	runs, err := r.store.RunsByIncident(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if err := r.refresh(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (r *Runs) refresh(ctx context.Context, run *soc.EnrichmentRun) error {
	if run.Status != soc.RunExported {
		return nil
	}
	outPath := r.paths.RunReportPath(run.IncidentKey, run.ID)
	if _, err := os.Stat(outPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	run.Status = soc.RunCompleted
	run.OutputPath = outPath
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	r.hooks.transition(soc.RunCompleted)
	return nil
}

// EnrichStale walks every incident and re-enriches those whose package
// is newer than their report, or which have no report at all. An
// incident whose report is current is skipped; one with a report but no
// package is left alone rather than guessed at. Each processed incident
// gets its own run row, analyzed synchronously.
func (r *Runs) EnrichStale(ctx context.Context) (processed, skipped int, err error) {
	incidents, err := r.store.Incidents(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load incidents: %w", err)
	}

	for i := range incidents {
		inc := &incidents[i]
		if fresh, err := r.reportFresh(inc.Key); err != nil {
			return processed, skipped, err
		} else if fresh {
			skipped++
			continue
		}

		run := &soc.EnrichmentRun{
			ID:          ulid.Make().String(),
			IncidentKey: inc.Key,
			CreatedAt:   r.now(),
			Status:      soc.RunQueued,
			Model:       r.model,
			RequestedBy: "batch",
		}
		if err := r.store.InsertRun(ctx, run); err != nil {
			return processed, skipped, fmt.Errorf("insert run: %w", err)
		}
		r.hooks.transition(soc.RunQueued)

		pkg, err := r.export(ctx, inc, run)
		if err != nil {
			r.fail(ctx, run, err)
			continue
		}
		if r.engine != nil {
			r.analyze(ctx, *run, pkg)
		}
		processed++
	}

	r.logger.Info(ctx, "batch enrichment complete", "processed", processed, "skipped", skipped)
	return processed, skipped, nil
}

// reportFresh reports whether the incident-level report exists and is
// at least as new as its package.
func (r *Runs) reportFresh(key string) (bool, error) {
	rep, err := os.Stat(r.paths.ReportPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pkg, err := os.Stat(r.paths.PackagePath(key))
	if os.IsNotExist(err) {
		// Report with no package: nothing to compare against, keep it.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return pkg.ModTime().Compare(rep.ModTime()) <= 0, nil
}

func writeReport(raw json.RawMessage, path string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("format report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

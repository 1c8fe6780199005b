// Pipeline is the one-shot batch runner: optionally import raw log
// files, then run a single parse/detect/synthesize/correlate/enrich
// pass and exit. Suitable for cron.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	cc "github.com/linnemanlabs/casefile/internal/cfg"
	"github.com/linnemanlabs/casefile/internal/detect"
	"github.com/linnemanlabs/casefile/internal/enrich"
	"github.com/linnemanlabs/casefile/internal/enrich/claude"
	"github.com/linnemanlabs/casefile/internal/incident"
	"github.com/linnemanlabs/casefile/internal/parse"
	"github.com/linnemanlabs/casefile/internal/pipeline"
	"github.com/linnemanlabs/casefile/internal/postgres"
	"github.com/linnemanlabs/casefile/internal/soc"
	"github.com/linnemanlabs/casefile/internal/soc/memstore"
	"github.com/linnemanlabs/casefile/internal/soc/pgstore"
)

const appName = "casefile"
const component = "pipeline"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	var (
		appCfg cc.Config
		logCfg log.Config
	)
	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)

	// Each imported file's base name becomes its raw-line source label,
	// which is how parsers find their lines.
	var logDir string
	flag.StringVar(&logDir, "log-dir", "", "directory of *.log files to import before the pass (empty = no import)")
	var skipEnrich bool
	flag.BoolVar(&skipEnrich, "skip-enrich", false, "run detection stages only, skip batch enrichment")

	flag.Parse()

	cfg.FillFromEnv(flag.CommandLine, "CASEFILE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(appCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	var store soc.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
	} else {
		// An in-memory pass is only useful with -log-dir: everything is
		// discarded on exit except exported packages and reports.
		store = memstore.New()
		L.Warn(ctx, "no database-url configured, results are not persisted")
	}

	parseSvc := parse.NewService(store, L)

	if logDir != "" {
		files, err := filepath.Glob(filepath.Join(logDir, "*.log"))
		if err != nil {
			return fmt.Errorf("scan log dir: %w", err)
		}
		for _, f := range files {
			if _, err := parseSvc.ImportFile(ctx, f, filepath.Base(f)); err != nil {
				return fmt.Errorf("import %s: %w", f, err)
			}
		}
	}

	rulesCfg := detect.DefaultConfig()
	if appCfg.RulesPath != "" {
		rulesCfg, err = detect.LoadConfig(appCfg.RulesPath)
		if err != nil {
			return fmt.Errorf("rules config: %w", err)
		}
	}

	var engine enrich.Engine
	if appCfg.ClaudeAPIKey != "" {
		engine = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
	}

	paths := enrich.Paths{DataDir: appCfg.DataDir}
	var runs *enrich.Runs
	if !skipEnrich {
		runs = enrich.NewRuns(store, engine, paths, appCfg.ClaudeModel, L, enrich.Hooks{})
	}

	parsers := []parse.Parser{
		parse.NewAuthParser(appCfg.ParseYear),
		parse.NewAccessParser(),
	}
	detectSvc := detect.NewService(store, detect.Rules(rulesCfg), L)
	incidentSvc := incident.NewService(store, L)

	pipe := pipeline.New(parseSvc, parsers, detectSvc, incidentSvc, runs, L, nil)
	if err := pipe.Run(ctx); err != nil {
		return fmt.Errorf("pipeline pass: %w", err)
	}

	L.Info(ctx, "pipeline pass complete")
	return nil
}

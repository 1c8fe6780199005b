package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	DataDir               string
	RulesPath             string
	ClaudeAPIKey          string
	ClaudeModel           string
	PipelineIntervalSec   int
	ParseYear             int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API routes (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.DataDir, "data-dir", "data", "root directory for exported packages and reports")
	fs.StringVar(&c.RulesPath, "rules-path", "", "YAML detection rules file (empty = built-in defaults)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude enrichment engine (empty = export-only mode)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.PipelineIntervalSec, "pipeline-interval-seconds", 0, "seconds between background pipeline passes (0 = disabled)")
	fs.IntVar(&c.ParseYear, "parse-year", 0, "year assumed for syslog timestamps without one (0 = current year)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}

	// Model only matters when the engine is enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.PipelineIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("invalid PIPELINE_INTERVAL_SECONDS %d (must be >= 0)", c.PipelineIntervalSec))
	}
	if c.ParseYear < 0 {
		errs = append(errs, fmt.Errorf("invalid PARSE_YEAR %d (must be >= 0)", c.ParseYear))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

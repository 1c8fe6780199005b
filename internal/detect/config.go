package detect

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Band maps an event count to a severity: the first band whose Min the
// count reaches wins. Bands must be sorted by Min descending.
type Band struct {
	Min      int `yaml:"min"`
	Severity int `yaml:"severity"`
}

// RuleConfig holds the threshold and severity bands for one rule.
type RuleConfig struct {
	Threshold int    `yaml:"threshold"`
	Bands     []Band `yaml:"bands"`
}

// Config holds the tunables for the built-in rules.
type Config struct {
	BruteForce RuleConfig `yaml:"ssh_brute_force"`
	WebScan    RuleConfig `yaml:"web_404_scanning"`
}

// DefaultConfig returns the built-in thresholds and bands.
func DefaultConfig() Config {
	return Config{
		BruteForce: RuleConfig{
			Threshold: 10,
			Bands:     []Band{{50, 9}, {30, 8}, {20, 7}, {10, 6}},
		},
		WebScan: RuleConfig{
			Threshold: 5,
			Bands:     []Band{{20, 8}, {10, 7}, {5, 6}},
		},
	}
}

// LoadConfig reads a yaml rules file; fields left unset keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read rules config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse rules config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, rc := range map[string]RuleConfig{
		"ssh_brute_force": c.BruteForce,
		"web_404_scanning": c.WebScan,
	} {
		if rc.Threshold <= 0 {
			return fmt.Errorf("rule %s: threshold must be positive", name)
		}
		if len(rc.Bands) == 0 {
			return fmt.Errorf("rule %s: at least one severity band required", name)
		}
		prev := rc.Bands[0].Min + 1
		for _, b := range rc.Bands {
			if b.Min >= prev {
				return fmt.Errorf("rule %s: bands must be sorted by min descending", name)
			}
			if b.Severity < 1 || b.Severity > 9 {
				return fmt.Errorf("rule %s: band severity %d out of range 1..9", name, b.Severity)
			}
			prev = b.Min
		}
	}
	return nil
}

// severity returns the banded severity for count. Counts below every
// band get the lowest band's severity (the rule floor).
func (rc RuleConfig) severity(count int) int {
	for _, b := range rc.Bands {
		if count >= b.Min {
			return b.Severity
		}
	}
	return rc.Bands[len(rc.Bands)-1].Severity
}

// floor is the lowest severity the rule can assign.
func (rc RuleConfig) floor() int {
	return rc.Bands[len(rc.Bands)-1].Severity
}

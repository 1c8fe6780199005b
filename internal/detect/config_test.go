package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_Severities(t *testing.T) {
	t.Parallel()

	bf := DefaultConfig().BruteForce
	tests := []struct {
		count int
		want  int
	}{
		{10, 6},
		{19, 6},
		{20, 7},
		{29, 7},
		{30, 8},
		{49, 8},
		{50, 9},
		{500, 9},
	}
	for _, tt := range tests {
		if got := bf.severity(tt.count); got != tt.want {
			t.Errorf("brute force severity(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}

	ws := DefaultConfig().WebScan
	tests = []struct {
		count int
		want  int
	}{
		{5, 6},
		{9, 6},
		{10, 7},
		{19, 7},
		{20, 8},
		{100, 8},
	}
	for _, tt := range tests {
		if got := ws.severity(tt.count); got != tt.want {
			t.Errorf("web scan severity(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `
ssh_brute_force:
  threshold: 3
  bands:
    - min: 30
      severity: 9
    - min: 3
      severity: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BruteForce.Threshold != 3 {
		t.Errorf("threshold = %d, want 3", cfg.BruteForce.Threshold)
	}
	if got := cfg.BruteForce.severity(4); got != 5 {
		t.Errorf("severity(4) = %d, want 5", got)
	}
	// untouched rule keeps its defaults
	if cfg.WebScan.Threshold != 5 {
		t.Errorf("web scan threshold = %d, want default 5", cfg.WebScan.Threshold)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"zero threshold", "ssh_brute_force:\n  threshold: 0\n  bands:\n    - min: 1\n      severity: 5\n"},
		{"unsorted bands", "ssh_brute_force:\n  threshold: 5\n  bands:\n    - min: 5\n      severity: 6\n    - min: 10\n      severity: 7\n"},
		{"severity out of range", "ssh_brute_force:\n  threshold: 5\n  bands:\n    - min: 5\n      severity: 10\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

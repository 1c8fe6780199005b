package enrich

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Report is the decoded shape of an analysis report. Every field is
// optional: reports may come from the engine or be hand-edited, so
// decoding tolerates missing fields and loose timeline entries.
type Report struct {
	ExecutiveSummary string          `json:"executive_summary"`
	TechnicalSummary string          `json:"technical_summary"`
	AttackHypothesis string          `json:"attack_hypothesis,omitempty"`
	Timeline         []TimelineEntry `json:"timeline,omitempty"`
	TriageChecklist  []string        `json:"triage_checklist,omitempty"`
	Containment      []string        `json:"containment_recommendations,omitempty"`
	Remediation      []string        `json:"remediation_recommendations,omitempty"`
	Assumptions      []string        `json:"assumptions,omitempty"`
	Confidence       string          `json:"confidence,omitempty"`
}

// TimelineEntry is one report timeline item. Accepts either
// {"time": ..., "event": ...} or a bare string.
type TimelineEntry struct {
	Time  string `json:"time,omitempty"`
	Event string `json:"event"`
}

func (t *TimelineEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.Time = ""
		t.Event = s
		return nil
	}
	type alias TimelineEntry
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = TimelineEntry(a)
	return nil
}

// ReadReport loads and decodes the report at path. Filesystem errors
// pass through (os.IsNotExist works on them); a file that is not a JSON
// object is a decode error, never a panic.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}

// ExtractJSON trims whitespace and markdown code fences around a JSON
// object and validates the remainder.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("engine output is not valid JSON")
	}
	return json.RawMessage(s), nil
}

// Package memstore provides an in-memory implementation of soc.Store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// Store holds all pipeline entities in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	rawLines  []soc.RawLine
	events    []soc.Event
	linked    map[string]bool      // raw line ID -> has event
	alerts    map[string]soc.Alert // (rule|ip) identity -> alert
	alertSeq  []string             // identity keys in insert order
	incidents []soc.Incident
	runs      map[string]soc.EnrichmentRun
	runSeq    []string
	notes     []soc.IncidentNote
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		linked: make(map[string]bool),
		alerts: make(map[string]soc.Alert),
		runs:   make(map[string]soc.EnrichmentRun),
	}
}

func (s *Store) InsertRawLine(_ context.Context, rl *soc.RawLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawLines = append(s.rawLines, *rl)
	return nil
}

func (s *Store) UnparsedRawLines(_ context.Context, source string) ([]soc.RawLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []soc.RawLine
	for _, rl := range s.rawLines {
		if rl.Source == source && !s.linked[rl.ID] {
			out = append(out, rl)
		}
	}
	return out, nil
}

func (s *Store) InsertEvent(_ context.Context, ev *soc.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linked[ev.RawLineID] {
		return false, nil
	}
	s.events = append(s.events, *ev)
	s.linked[ev.RawLineID] = true
	return true, nil
}

func (s *Store) CountEventsByIP(_ context.Context, q soc.EventQuery) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, ev := range s.events {
		if ev.SrcIP == "" || ev.Type != q.Type {
			continue
		}
		if q.Outcome != "" && ev.Outcome != q.Outcome {
			continue
		}
		if q.HTTPStatus != 0 && ev.HTTPStatus != q.HTTPStatus {
			continue
		}
		counts[ev.SrcIP]++
	}
	for ip, n := range counts {
		if n < q.MinCount {
			delete(counts, ip)
		}
	}
	return counts, nil
}

func (s *Store) EventsByIP(_ context.Context, ip string) ([]soc.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []soc.Event
	for _, ev := range s.events {
		if ev.SrcIP == ip {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *Store) UpsertAlert(_ context.Context, al *soc.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := soc.Fingerprint(al.RuleName, al.SrcIP)
	if existing, ok := s.alerts[key]; ok {
		// identity row keeps its original ID
		al.ID = existing.ID
		existing.Severity = al.Severity
		existing.Description = al.Description
		existing.CreatedAt = al.CreatedAt
		s.alerts[key] = existing
		return nil
	}
	s.alerts[key] = *al
	s.alertSeq = append(s.alertSeq, key)
	return nil
}

func (s *Store) Alerts(_ context.Context) ([]soc.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]soc.Alert, 0, len(s.alertSeq))
	for _, key := range s.alertSeq {
		out = append(out, s.alerts[key])
	}
	return out, nil
}

func (s *Store) AlertsByIP(_ context.Context, ip string) ([]soc.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []soc.Alert
	for _, key := range s.alertSeq {
		if al := s.alerts[key]; al.SrcIP == ip {
			out = append(out, al)
		}
	}
	return out, nil
}

func (s *Store) InsertIncident(_ context.Context, inc *soc.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, *inc)
	return nil
}

func (s *Store) IncidentByFingerprint(_ context.Context, fp string) (*soc.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.incidents {
		if s.incidents[i].Fingerprint == fp {
			cp := s.incidents[i]
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) IncidentByKey(_ context.Context, key string) (*soc.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.incidents {
		if s.incidents[i].Key == key {
			cp := s.incidents[i]
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) Incidents(_ context.Context) ([]soc.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]soc.Incident, len(s.incidents))
	copy(out, s.incidents)
	return out, nil
}

func (s *Store) OpenIncidents(_ context.Context) ([]soc.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []soc.Incident
	for _, inc := range s.incidents {
		if inc.Status != soc.StatusClosed && inc.PrimaryIP != "" {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (s *Store) UpdateIncidentDetection(_ context.Context, id string, severity int, summary, ruleName, primaryIP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.incidents {
		if s.incidents[i].ID == id {
			s.incidents[i].Severity = severity
			s.incidents[i].Summary = summary
			s.incidents[i].RuleName = ruleName
			s.incidents[i].PrimaryIP = primaryIP
			return nil
		}
	}
	return soc.ErrNotFound
}

func (s *Store) SetIncidentStatus(_ context.Context, key string, status soc.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.incidents {
		if s.incidents[i].Key == key {
			s.incidents[i].Status = status
			return nil
		}
	}
	return soc.ErrNotFound
}

func (s *Store) EscalateIncidents(_ context.Context, ip string, target int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i := range s.incidents {
		inc := &s.incidents[i]
		if inc.Status != soc.StatusClosed && inc.PrimaryIP == ip && inc.Severity < target {
			inc.Severity = target
			changed++
		}
	}
	return changed, nil
}

func (s *Store) CountIncidentKeys(_ context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, inc := range s.incidents {
		if strings.HasPrefix(inc.Key, prefix) {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertRun(_ context.Context, r *soc.EnrichmentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = *r
	s.runSeq = append(s.runSeq, r.ID)
	return nil
}

func (s *Store) UpdateRun(_ context.Context, r *soc.EnrichmentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return soc.ErrNotFound
	}
	s.runs[r.ID] = *r
	return nil
}

func (s *Store) RunByID(_ context.Context, id string) (*soc.EnrichmentRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *Store) RunsByIncident(_ context.Context, key string) ([]soc.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []soc.EnrichmentRun
	for i := len(s.runSeq) - 1; i >= 0; i-- {
		if r := s.runs[s.runSeq[i]]; r.IncidentKey == key {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) AddNote(_ context.Context, n *soc.IncidentNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, *n)
	return nil
}

func (s *Store) NotesByIncident(_ context.Context, key string) ([]soc.IncidentNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []soc.IncidentNote
	for i := len(s.notes) - 1; i >= 0; i-- {
		if s.notes[i].IncidentKey == key {
			out = append(out, s.notes[i])
		}
	}
	return out, nil
}

// Package pgstore provides a PostgreSQL implementation of soc.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/casefile/internal/soc"
)

var tracer = otel.Tracer("github.com/linnemanlabs/casefile/internal/soc/pgstore")

//go:embed schema.sql
var schema string

// Store persists pipeline entities in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) span(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Store) InsertRawLine(ctx context.Context, rl *soc.RawLine) error {
	ctx, span := s.span(ctx, "pgstore.InsertRawLine", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_lines (id, source, line) VALUES ($1, $2, $3)`,
		rl.ID, rl.Source, rl.Line,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert raw line: %w", err))
	}
	return nil
}

func (s *Store) UnparsedRawLines(ctx context.Context, source string) ([]soc.RawLine, error) {
	ctx, span := s.span(ctx, "pgstore.UnparsedRawLines", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT rl.id, rl.source, rl.line
		 FROM raw_lines rl
		 WHERE rl.source = $1
		   AND NOT EXISTS (SELECT 1 FROM events e WHERE e.raw_line_id = rl.id)
		 ORDER BY rl.id`,
		source,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query raw lines: %w", err))
	}
	defer rows.Close()

	var out []soc.RawLine
	for rows.Next() {
		var rl soc.RawLine
		if err := rows.Scan(&rl.ID, &rl.Source, &rl.Line); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan raw line: %w", err))
		}
		out = append(out, rl)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate raw lines: %w", err))
	}
	return out, nil
}

// InsertEvent inserts ev unless its raw line is already linked; the unique
// index on raw_line_id turns a duplicate parse into a no-op.
func (s *Store) InsertEvent(ctx context.Context, ev *soc.Event) (bool, error) {
	ctx, span := s.span(ctx, "pgstore.InsertEvent", "INSERT")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO events (
			id, raw_line_id, event_time, event_type, product, host,
			src_ip, username, http_status, outcome, message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (raw_line_id) DO NOTHING`,
		ev.ID, ev.RawLineID, ev.Time, ev.Type, ev.Product, ev.Host,
		ev.SrcIP, ev.Username, ev.HTTPStatus, string(ev.Outcome), ev.Message,
	)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("insert event: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CountEventsByIP(ctx context.Context, q soc.EventQuery) (map[string]int, error) {
	ctx, span := s.span(ctx, "pgstore.CountEventsByIP", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT src_ip, COUNT(*)
		 FROM events
		 WHERE event_type = $1
		   AND src_ip <> ''
		   AND ($2 = '' OR outcome = $2)
		   AND ($3 = 0 OR http_status = $3)
		 GROUP BY src_ip
		 HAVING COUNT(*) >= $4`,
		q.Type, string(q.Outcome), q.HTTPStatus, q.MinCount,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("count events: %w", err))
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var ip string
		var n int
		if err := rows.Scan(&ip, &n); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan count: %w", err))
		}
		counts[ip] = n
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate counts: %w", err))
	}
	return counts, nil
}

const eventColumns = `id, raw_line_id, event_time, event_type, product, host,
	src_ip, username, http_status, outcome, message`

func (s *Store) EventsByIP(ctx context.Context, ip string) ([]soc.Event, error) {
	ctx, span := s.span(ctx, "pgstore.EventsByIP", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE src_ip = $1 ORDER BY event_time`,
		ip,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	var out []soc.Event
	for rows.Next() {
		var ev soc.Event
		var outcome string
		if err := rows.Scan(&ev.ID, &ev.RawLineID, &ev.Time, &ev.Type, &ev.Product,
			&ev.Host, &ev.SrcIP, &ev.Username, &ev.HTTPStatus, &outcome, &ev.Message); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan event: %w", err))
		}
		ev.Outcome = soc.Outcome(outcome)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate events: %w", err))
	}
	return out, nil
}

// UpsertAlert inserts or overwrites the (rule_name, src_ip) row. The
// surviving row ID is written back to al.
func (s *Store) UpsertAlert(ctx context.Context, al *soc.Alert) error {
	ctx, span := s.span(ctx, "pgstore.UpsertAlert", "UPSERT")
	defer span.End()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO alerts (id, created_at, rule_name, severity, src_ip, description)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (rule_name, src_ip) DO UPDATE SET
			severity    = EXCLUDED.severity,
			description = EXCLUDED.description,
			created_at  = EXCLUDED.created_at
		 RETURNING id`,
		al.ID, al.CreatedAt, al.RuleName, al.Severity, al.SrcIP, al.Description,
	).Scan(&al.ID)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert alert: %w", err))
	}
	return nil
}

const alertColumns = `id, created_at, rule_name, severity, src_ip, description`

func (s *Store) alertsQuery(ctx context.Context, query string, args ...any) ([]soc.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []soc.Alert
	for rows.Next() {
		var al soc.Alert
		if err := rows.Scan(&al.ID, &al.CreatedAt, &al.RuleName, &al.Severity, &al.SrcIP, &al.Description); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func (s *Store) Alerts(ctx context.Context) ([]soc.Alert, error) {
	ctx, span := s.span(ctx, "pgstore.Alerts", "SELECT")
	defer span.End()

	out, err := s.alertsQuery(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

func (s *Store) AlertsByIP(ctx context.Context, ip string) ([]soc.Alert, error) {
	ctx, span := s.span(ctx, "pgstore.AlertsByIP", "SELECT")
	defer span.End()

	out, err := s.alertsQuery(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE src_ip = $1 ORDER BY created_at DESC, id DESC`, ip)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

const incidentColumns = `id, incident_key, created_at, status, severity,
	primary_ip, summary, rule_name, fingerprint, source_alert_id`

func scanIncident(row pgx.Row) (*soc.Incident, error) {
	var inc soc.Incident
	var status string
	err := row.Scan(&inc.ID, &inc.Key, &inc.CreatedAt, &status, &inc.Severity,
		&inc.PrimaryIP, &inc.Summary, &inc.RuleName, &inc.Fingerprint, &inc.SourceAlertID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Status = soc.IncidentStatus(status)
	return &inc, nil
}

func (s *Store) InsertIncident(ctx context.Context, inc *soc.Incident) error {
	ctx, span := s.span(ctx, "pgstore.InsertIncident", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO incidents (
			id, incident_key, created_at, status, severity,
			primary_ip, summary, rule_name, fingerprint, source_alert_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		inc.ID, inc.Key, inc.CreatedAt, string(inc.Status), inc.Severity,
		inc.PrimaryIP, inc.Summary, inc.RuleName, inc.Fingerprint, inc.SourceAlertID,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert incident: %w", err))
	}
	return nil
}

func (s *Store) IncidentByFingerprint(ctx context.Context, fp string) (*soc.Incident, bool, error) {
	ctx, span := s.span(ctx, "pgstore.IncidentByFingerprint", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE fingerprint = $1 LIMIT 1`, fp))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

func (s *Store) IncidentByKey(ctx context.Context, key string) (*soc.Incident, bool, error) {
	ctx, span := s.span(ctx, "pgstore.IncidentByKey", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE incident_key = $1`, key))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

func (s *Store) incidentsQuery(ctx context.Context, query string, args ...any) ([]soc.Incident, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []soc.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

func (s *Store) Incidents(ctx context.Context) ([]soc.Incident, error) {
	ctx, span := s.span(ctx, "pgstore.Incidents", "SELECT")
	defer span.End()

	out, err := s.incidentsQuery(ctx,
		`SELECT `+incidentColumns+` FROM incidents ORDER BY severity DESC, created_at DESC`)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

func (s *Store) OpenIncidents(ctx context.Context) ([]soc.Incident, error) {
	ctx, span := s.span(ctx, "pgstore.OpenIncidents", "SELECT")
	defer span.End()

	out, err := s.incidentsQuery(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE status <> $1 AND primary_ip <> ''
		 ORDER BY primary_ip, incident_key`,
		string(soc.StatusClosed))
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

func (s *Store) UpdateIncidentDetection(ctx context.Context, id string, severity int, summary, ruleName, primaryIP string) error {
	ctx, span := s.span(ctx, "pgstore.UpdateIncidentDetection", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET severity = $2, summary = $3, rule_name = $4, primary_ip = $5 WHERE id = $1`,
		id, severity, summary, ruleName, primaryIP,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update incident: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return soc.ErrNotFound
	}
	return nil
}

func (s *Store) SetIncidentStatus(ctx context.Context, key string, status soc.IncidentStatus) error {
	ctx, span := s.span(ctx, "pgstore.SetIncidentStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $2 WHERE incident_key = $1`,
		key, string(status),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("set status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return soc.ErrNotFound
	}
	return nil
}

// EscalateIncidents is guarded by a strict inequality so repeated
// correlation passes reach a fixed point.
func (s *Store) EscalateIncidents(ctx context.Context, ip string, target int) (int, error) {
	ctx, span := s.span(ctx, "pgstore.EscalateIncidents", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET severity = $2
		 WHERE status <> $3 AND primary_ip = $1 AND severity < $2`,
		ip, target, string(soc.StatusClosed),
	)
	if err != nil {
		return 0, spanErr(span, fmt.Errorf("escalate incidents: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CountIncidentKeys(ctx context.Context, prefix string) (int, error) {
	ctx, span := s.span(ctx, "pgstore.CountIncidentKeys", "SELECT")
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE incident_key LIKE $1 || '%'`, prefix,
	).Scan(&n)
	if err != nil {
		return 0, spanErr(span, fmt.Errorf("count incident keys: %w", err))
	}
	return n, nil
}

const runColumns = `id, incident_key, created_at, status, model,
	requested_by, analyst_prompt, export_path, output_path, error`

func scanRun(row pgx.Row) (*soc.EnrichmentRun, error) {
	var r soc.EnrichmentRun
	var status string
	err := row.Scan(&r.ID, &r.IncidentKey, &r.CreatedAt, &status, &r.Model,
		&r.RequestedBy, &r.AnalystPrompt, &r.ExportPath, &r.OutputPath, &r.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = soc.RunStatus(status)
	return &r, nil
}

func (s *Store) InsertRun(ctx context.Context, r *soc.EnrichmentRun) error {
	ctx, span := s.span(ctx, "pgstore.InsertRun", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_runs (
			id, incident_key, created_at, status, model,
			requested_by, analyst_prompt, export_path, output_path, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.IncidentKey, r.CreatedAt, string(r.Status), r.Model,
		r.RequestedBy, r.AnalystPrompt, r.ExportPath, r.OutputPath, r.Error,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert run: %w", err))
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, r *soc.EnrichmentRun) error {
	ctx, span := s.span(ctx, "pgstore.UpdateRun", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_runs SET
			status = $2, model = $3, export_path = $4, output_path = $5, error = $6
		 WHERE id = $1`,
		r.ID, string(r.Status), r.Model, r.ExportPath, r.OutputPath, r.Error,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update run: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return soc.ErrNotFound
	}
	return nil
}

func (s *Store) RunByID(ctx context.Context, id string) (*soc.EnrichmentRun, bool, error) {
	ctx, span := s.span(ctx, "pgstore.RunByID", "SELECT")
	defer span.End()

	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM enrichment_runs WHERE id = $1`, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

func (s *Store) RunsByIncident(ctx context.Context, key string) ([]soc.EnrichmentRun, error) {
	ctx, span := s.span(ctx, "pgstore.RunsByIncident", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM enrichment_runs
		 WHERE incident_key = $1 ORDER BY created_at DESC, id DESC`, key)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query runs: %w", err))
	}
	defer rows.Close()

	var out []soc.EnrichmentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate runs: %w", err))
	}
	return out, nil
}

func (s *Store) AddNote(ctx context.Context, n *soc.IncidentNote) error {
	ctx, span := s.span(ctx, "pgstore.AddNote", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO incident_notes (id, incident_key, created_at, author, note)
		 VALUES ($1,$2,$3,$4,$5)`,
		n.ID, n.IncidentKey, n.CreatedAt, n.Author, n.Note,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert note: %w", err))
	}
	return nil
}

func (s *Store) NotesByIncident(ctx context.Context, key string) ([]soc.IncidentNote, error) {
	ctx, span := s.span(ctx, "pgstore.NotesByIncident", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, incident_key, created_at, author, note
		 FROM incident_notes
		 WHERE incident_key = $1 ORDER BY created_at DESC, id DESC`, key)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query notes: %w", err))
	}
	defer rows.Close()

	var out []soc.IncidentNote
	for rows.Next() {
		var n soc.IncidentNote
		if err := rows.Scan(&n.ID, &n.IncidentKey, &n.CreatedAt, &n.Author, &n.Note); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan note: %w", err))
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate notes: %w", err))
	}
	return out, nil
}

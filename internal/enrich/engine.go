// Package enrich exports incident packages, runs AI analysis over them,
// and tracks enrichment runs through their lifecycle.
//
// The filesystem is part of the contract: packages land in
// <data>/ai/inbox and reports in <data>/ai/outbox, and the batch pass
// uses file mtimes to decide staleness. Operators can inspect, edit, or
// hand-write either side.
package enrich

import (
	"context"
	"encoding/json"
)

// Engine produces an analysis report for an exported incident package.
// The returned bytes must be a single valid JSON object; they are
// written to the outbox verbatim.
type Engine interface {
	Analyze(ctx context.Context, pkg *Package) (json.RawMessage, error)
}

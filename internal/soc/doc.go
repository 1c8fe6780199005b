// Package soc defines the entities flowing through casefile's pipeline —
// raw log lines, normalized events, alerts, incidents, enrichment runs,
// analyst notes — and the Store interface the pipeline stages persist
// them through.
package soc

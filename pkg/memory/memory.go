// Package memory records skill failures and auto-heal outcomes
// durably, so higher-level surfaces can answer "what keeps breaking
// and did remediation help". Sink failures are always swallowed by the
// engine: recording must never abort a run.
package memory

import (
	"context"
	"time"
)

// Entry is one recorded failure (or healed recovery).
type Entry struct {
	Tool      string    `db:"tool" json:"tool"`
	Error     string    `db:"error" json:"error"`
	Skill     string    `db:"skill" json:"skill"`
	AutoFixed bool      `db:"auto_fixed" json:"auto_fixed"`
	Timestamp time.Time `db:"created_at" json:"timestamp"`
}

// Sink persists failure entries. Implementations must be safe for
// concurrent use by independent runs.
type Sink interface {
	LogFailure(ctx context.Context, entry Entry) error
}

// NopSink discards everything. Used when no durable store is configured.
type NopSink struct{}

// LogFailure implements Sink.
func (NopSink) LogFailure(context.Context, Entry) error { return nil }

// Package history records one audit row per relayed request. Recording is
// optional and best-effort: a nil Recorder disables it and the pipeline only
// logs failures, it never surfaces them to the caller.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("history record not found")

// Mode is the pipeline's resolution for a request.
type Mode string

const (
	ModeDirect    Mode = "direct"    // inbound SQL executed as-is
	ModeFallback  Mode = "fallback"  // direct execution failed, LLM rewrite executed
	ModeDelegated Mode = "delegated" // natural language, LLM reply executed
	ModeText      Mode = "text"      // LLM reply emitted as plain text
	ModeFailed    Mode = "failed"    // no branch produced a usable response
)

type Record struct {
	TraceID    string
	UserID     string
	Message    string
	Classified bool
	Mode       Mode
	SQL        string
	RowCount   int
	Duration   time.Duration
	Error      string
	CreatedAt  time.Time
}

type Recorder interface {
	Insert(ctx context.Context, record Record) error
	ListRecent(ctx context.Context, userID string, limit int) ([]Record, error)
}

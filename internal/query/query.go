package query

import (
	"context"
	"time"
)

// Result is one executed statement's tabular output. Every row shares the
// column set and ordering in Columns; the engine derives both from the
// driver's result metadata.
type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, sql string) (Result, error)
}

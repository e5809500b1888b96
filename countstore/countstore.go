// Package countstore tracks activity counters (submissions, verdicts) in
// hour/day/total period buckets. Count reads are nullable: nil means the
// counter was never materialized, which is distinct from an explicit zero.
package countstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

type CountStore interface {
	Increment(ctx context.Context, name, val string) error
	// GetCount returns nil when the counter has never been incremented in
	// the requested period bucket (or has expired out of the backend).
	GetCount(ctx context.Context, name, val, period string) (*int64, error)
}

func periodBucket(name, val, period string) string {
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		t := time.Now().UTC().Format(time.DateOnly)
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	case PeriodHour:
		t := time.Now().UTC().Format(time.RFC3339)[0:13]
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}

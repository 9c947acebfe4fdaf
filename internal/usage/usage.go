package usage

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPeriod is returned for period values other than day, week, month.
var ErrInvalidPeriod = errors.New("invalid period")

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// Log is an immutable record of one metered call attempt. Rows are appended
// by the recorder and never updated afterwards.
type Log struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CompanyID    string    `json:"company_id"`
	ToolName     string    `json:"tool_name"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LatencyMs    int64     `json:"latency_ms"`
	IP           string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ToolUsage is one row of the per-tool aggregation.
type ToolUsage struct {
	ToolName string    `json:"tool_name"`
	Count    int64     `json:"count"`
	LastUsed time.Time `json:"last_used"`
}

type Store interface {
	Append(ctx context.Context, l *Log) error
	// CountSuccessSince counts successful calls for a company from `since`
	// onward. This is the authoritative usage figure.
	CountSuccessSince(ctx context.Context, companyID string, since time.Time) (int64, error)
	// CountByUserSince counts all calls for a user regardless of outcome;
	// feeds the abuse detector.
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	// AggregateByTool groups successful calls in [from, to] by tool name,
	// ordered by count descending with tool name as tie-break.
	AggregateByTool(ctx context.Context, companyID string, from, to time.Time) ([]ToolUsage, error)
	// ListByUser returns a user's raw log entries in [from, to], newest first.
	ListByUser(ctx context.Context, userID, companyID string, from, to time.Time) ([]*Log, error)
}

// endOfDayNanos is the nanosecond offset of 23:59:59.999.
const endOfDayNanos = 999000000

// PeriodRange maps a period tag to an inclusive [from, to] range in UTC:
// day is today, week is the Sunday-to-Saturday span containing now, month is
// the current calendar month. Both reporting paths share this one rule.
func PeriodRange(period string, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	y, m, d := now.Date()

	switch period {
	case PeriodDay:
		from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		to := time.Date(y, m, d, 23, 59, 59, endOfDayNanos, time.UTC)
		return from, to, nil
	case PeriodWeek:
		sunday := d - int(now.Weekday())
		from := time.Date(y, m, sunday, 0, 0, 0, 0, time.UTC)
		to := time.Date(y, m, sunday+6, 23, 59, 59, endOfDayNanos, time.UTC)
		return from, to, nil
	case PeriodMonth:
		from := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(y, m+1, 0, 23, 59, 59, endOfDayNanos, time.UTC)
		return from, to, nil
	default:
		return time.Time{}, time.Time{}, ErrInvalidPeriod
	}
}

// StartOfMonth returns the first instant of the calendar month containing now.
func StartOfMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

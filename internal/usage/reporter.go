package usage

import (
	"context"
	"time"

	"github.com/Shiva2076/Saas-backend-repo/internal/company"
)

// Stats is the period-bucketed usage aggregation for a company dashboard.
type Stats struct {
	Period     string      `json:"period"`
	TotalUsage int64       `json:"total_usage"`
	Limit      int64       `json:"limit"`     // -1 = unlimited
	Remaining  int64       `json:"remaining"` // -1 = unlimited
	Tools      []ToolUsage `json:"tools"`
}

type Reporter struct {
	logs      Store
	companies company.Store
	now       func() time.Time
}

func NewReporter(logs Store, companies company.Store) *Reporter {
	return &Reporter{logs: logs, companies: companies, now: time.Now}
}

// Stats aggregates successful calls in the period grouped by tool name. The
// period is validated before anything touches a store.
func (r *Reporter) Stats(ctx context.Context, companyID, period string) (*Stats, error) {
	from, to, err := PeriodRange(period, r.now())
	if err != nil {
		return nil, err
	}

	c, err := r.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}

	tools, err := r.logs.AggregateByTool(ctx, companyID, from, to)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, t := range tools {
		total += t.Count
	}

	remaining := company.Unlimited
	if c.Plan != company.PlanEnterprise {
		remaining = c.MonthlyLimit - total
	}

	return &Stats{
		Period:     period,
		TotalUsage: total,
		Limit:      c.MonthlyLimit,
		Remaining:  remaining,
		Tools:      tools,
	}, nil
}

// UserLogs returns a user's raw log entries for the period, newest first,
// using the same range rule as Stats.
func (r *Reporter) UserLogs(ctx context.Context, userID, companyID, period string) ([]*Log, error) {
	from, to, err := PeriodRange(period, r.now())
	if err != nil {
		return nil, err
	}

	return r.logs.ListByUser(ctx, userID, companyID, from, to)
}

// Package quota enforces per-company monthly caps. Two paths exist on
// purpose: the Gate is the cheap pre-request check against the cached
// counter, the Evaluator recounts from the usage log and is authoritative
// for reporting and billing decisions.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Shiva2076/Saas-backend-repo/internal/company"
	"github.com/Shiva2076/Saas-backend-repo/internal/usage"
)

// ExceededError carries the context callers surface with a quota rejection.
type ExceededError struct {
	CurrentUsage int64
	Limit        int64
	ResetDate    time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("monthly usage limit of %d has been reached", e.Limit)
}

// CheckResult is the evaluator's verdict for one company.
type CheckResult struct {
	Allowed      bool   `json:"allowed"`
	Remaining    int64  `json:"remaining"`     // -1 = unlimited
	MonthlyLimit int64  `json:"monthly_limit"` // -1 = unlimited
	ActualUsage  int64  `json:"actual_usage"`
	Plan         string `json:"plan"`
}

type Evaluator struct {
	companies company.Store
	logs      usage.Store
	now       func() time.Time
}

func NewEvaluator(companies company.Store, logs usage.Store) *Evaluator {
	return &Evaluator{companies: companies, logs: logs, now: time.Now}
}

// Check recomputes usage by counting successful log entries since the start
// of the current calendar month rather than trusting the cached counter. A
// missing company propagates as company.ErrNotFound; there is no default
// verdict. Remaining can go negative when a race let extra requests through;
// callers must treat any non-positive remaining as deny.
func (e *Evaluator) Check(ctx context.Context, companyID string) (*CheckResult, error) {
	c, err := e.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if c.Plan == company.PlanEnterprise {
		return &CheckResult{
			Allowed:      true,
			Remaining:    company.Unlimited,
			MonthlyLimit: company.Unlimited,
			ActualUsage:  c.CurrentUsage,
			Plan:         c.Plan,
		}, nil
	}

	actual, err := e.logs.CountSuccessSince(ctx, companyID, usage.StartOfMonth(e.now()))
	if err != nil {
		return nil, err
	}

	limit := company.LimitForPlan(c.Plan)
	remaining := limit - actual

	return &CheckResult{
		Allowed:      remaining > 0,
		Remaining:    remaining,
		MonthlyLimit: limit,
		ActualUsage:  actual,
		Plan:         c.Plan,
	}, nil
}

// Gate is the fast pre-request check. It reads the cached counter and
// handles calendar rollover; it does not recount logs.
type Gate struct {
	companies company.Store
	now       func() time.Time
}

func NewGate(companies company.Store) *Gate {
	return &Gate{companies: companies, now: time.Now}
}

// Allow returns nil when the request may proceed, an *ExceededError when the
// company is at or over cap, or a store error. When the stored reset date has
// passed, the counter is zeroed and the reset date advanced to the 1st of the
// following month via a conditional update keyed on the old reset date, so
// exactly one of any number of concurrent requests performs the rollover.
func (g *Gate) Allow(ctx context.Context, companyID string) error {
	c, err := g.companies.Get(ctx, companyID)
	if err != nil {
		return err
	}

	now := g.now()
	if !now.Before(c.ResetDate) {
		next := company.NextResetDate(now)
		won, err := g.companies.ResetUsage(ctx, c.ID, c.ResetDate, next)
		if err != nil {
			return err
		}
		if won {
			c.CurrentUsage = 0
			c.ResetDate = next
		} else {
			// Lost the rollover race; another request already reset.
			if c, err = g.companies.Get(ctx, companyID); err != nil {
				return err
			}
		}
	}

	if c.Plan == company.PlanEnterprise {
		return nil
	}

	if c.CurrentUsage >= c.MonthlyLimit {
		return &ExceededError{
			CurrentUsage: c.CurrentUsage,
			Limit:        c.MonthlyLimit,
			ResetDate:    c.ResetDate,
		}
	}

	return nil
}

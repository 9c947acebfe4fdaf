package company

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("company not found")

// Unlimited marks a plan with no monthly cap.
const Unlimited int64 = -1

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

type Company struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Plan         string    `json:"plan"`
	MonthlyLimit int64     `json:"monthly_limit"` // -1 = unlimited
	CurrentUsage int64     `json:"current_usage"`
	ResetDate    time.Time `json:"reset_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// LimitForPlan derives the monthly cap from the subscription plan. Any
// unrecognized plan falls back to the free tier cap.
func LimitForPlan(plan string) int64 {
	switch plan {
	case PlanEnterprise:
		return Unlimited
	case PlanPro:
		return 500
	default:
		return 100
	}
}

// NextResetDate returns the first day of the month following now, at
// 00:00:00 UTC.
func NextResetDate(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

type Store interface {
	Get(ctx context.Context, id string) (*Company, error)
	Create(ctx context.Context, c *Company) error
	// IncrementUsage bumps the cached usage counter by one.
	IncrementUsage(ctx context.Context, id string) error
	// ResetUsage zeroes the counter and advances the reset date, conditional
	// on the stored reset date still matching oldResetDate. Returns false
	// when another request already performed the rollover.
	ResetUsage(ctx context.Context, id string, oldResetDate, next time.Time) (bool, error)
	// SetUsage overwrites the cached counter; used by reconciliation.
	SetUsage(ctx context.Context, id string, usage int64) error
	// UpdatePlan changes the plan and recomputes the monthly limit in the
	// same statement so the two are never observably out of sync.
	UpdatePlan(ctx context.Context, id, plan string) error
	ListIDs(ctx context.Context) ([]string, error)
}

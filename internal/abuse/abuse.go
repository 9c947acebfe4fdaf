// Package abuse watches per-user request volume over a trailing window and
// suspends accounts that blow past the threshold.
package abuse

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/internal/usage"
)

// ErrSuspended is returned once the threshold is crossed. Distinct from
// ordinary throttling: the account is deactivated and stays rejected until
// support reactivates it.
var ErrSuspended = errors.New("account temporarily suspended due to excessive usage, please contact support")

// Deactivator is the single cross-cutting write this package performs.
type Deactivator interface {
	SetActive(ctx context.Context, userID string, active bool) error
}

type Detector struct {
	logs      usage.Store
	users     Deactivator
	window    time.Duration
	threshold int64
	log       *zap.Logger
	now       func() time.Time
}

func NewDetector(logs usage.Store, users Deactivator, window time.Duration, threshold int, log *zap.Logger) *Detector {
	return &Detector{
		logs:      logs,
		users:     users,
		window:    window,
		threshold: int64(threshold),
		log:       log,
		now:       time.Now,
	}
}

// Check counts the user's logged requests, successes and failures alike,
// within the trailing window. At or over the threshold the account is
// deactivated and the request rejected; the deactivation write is best-effort
// and never blocks the rejection. Because the window keeps including recent
// hits, every subsequent check fires again until reactivation.
func (d *Detector) Check(ctx context.Context, userID string) error {
	since := d.now().Add(-d.window)

	count, err := d.logs.CountByUserSince(ctx, userID, since)
	if err != nil {
		return err
	}

	if count >= d.threshold {
		if err := d.users.SetActive(ctx, userID, false); err != nil {
			d.log.Error("failed to deactivate user",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return ErrSuspended
	}

	return nil
}

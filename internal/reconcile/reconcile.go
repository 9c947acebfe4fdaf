// Package reconcile keeps the cached company usage counters honest. The
// usage log is the source of truth; the counter is a denormalized pre-check
// that drifts under partial failures, so a background loop periodically
// rewrites it from the log count.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/internal/company"
	"github.com/Shiva2076/Saas-backend-repo/internal/usage"
)

type Reconciler struct {
	companies company.Store
	logs      usage.Store
	interval  time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func New(companies company.Store, logs usage.Store, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		companies: companies,
		logs:      logs,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, reconciling every interval.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll rewrites every company's cached counter from the count of
// successful log entries since the start of the current month. Per-company
// failures are logged and skipped; one bad row must not stall the sweep.
func (r *Reconciler) ReconcileAll(ctx context.Context) {
	ids, err := r.companies.ListIDs(ctx)
	if err != nil {
		r.log.Error("reconcile: failed to list companies", zap.Error(err))
		return
	}

	since := usage.StartOfMonth(r.now())
	for _, id := range ids {
		count, err := r.logs.CountSuccessSince(ctx, id, since)
		if err != nil {
			r.log.Error("reconcile: failed to count usage",
				zap.String("company_id", id),
				zap.Error(err))
			continue
		}

		if err := r.companies.SetUsage(ctx, id, count); err != nil {
			r.log.Error("reconcile: failed to set usage",
				zap.String("company_id", id),
				zap.Error(err))
		}
	}
}

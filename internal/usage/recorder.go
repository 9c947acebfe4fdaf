package usage

import (
	"context"

	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/internal/company"
)

// Entry is the outcome of one metered call, handed to the recorder after the
// response has already been sent.
type Entry struct {
	UserID       string
	CompanyID    string
	ToolName     string
	Prompt       string
	Response     string
	Success      bool
	ErrorMessage string
	LatencyMs    int64
	IP           string
}

// Recorder persists metered call outcomes. Everything it does is best-effort:
// the response is committed before Record runs, so failures are logged and
// swallowed, never surfaced to the caller.
type Recorder struct {
	logs      Store
	companies company.Store
	log       *zap.Logger
}

func NewRecorder(logs Store, companies company.Store, log *zap.Logger) *Recorder {
	return &Recorder{logs: logs, companies: companies, log: log}
}

// Record appends the usage log entry, then increments the company's cached
// counter. The two writes are independent: a failed append does not stop the
// increment. The counter moves on every completed attempt, success or not;
// reporting and quota recounts only ever read successful log rows, and the
// reconciler repairs any drift this causes.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	l := &Log{
		UserID:       e.UserID,
		CompanyID:    e.CompanyID,
		ToolName:     e.ToolName,
		Prompt:       e.Prompt,
		Response:     e.Response,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
		LatencyMs:    e.LatencyMs,
		IP:           e.IP,
	}
	if err := r.logs.Append(ctx, l); err != nil {
		r.log.Error("failed to append usage log",
			zap.String("user_id", e.UserID),
			zap.String("company_id", e.CompanyID),
			zap.String("tool", e.ToolName),
			zap.Error(err))
	}

	if err := r.companies.IncrementUsage(ctx, e.CompanyID); err != nil {
		r.log.Error("failed to increment usage counter",
			zap.String("company_id", e.CompanyID),
			zap.Error(err))
	}
}

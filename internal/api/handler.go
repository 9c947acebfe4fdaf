// Package api wires the metering pipeline in front of tool execution:
// principal -> rate limit -> abuse check -> quota gate -> tool -> record.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/internal/abuse"
	"github.com/Shiva2076/Saas-backend-repo/internal/auth"
	"github.com/Shiva2076/Saas-backend-repo/internal/company"
	"github.com/Shiva2076/Saas-backend-repo/internal/quota"
	"github.com/Shiva2076/Saas-backend-repo/internal/tools"
	"github.com/Shiva2076/Saas-backend-repo/internal/usage"
	"github.com/Shiva2076/Saas-backend-repo/pkg/ratelimit"
)

// UsageRecorder is the post-commit callback invoked with the full outcome of
// a metered call.
type UsageRecorder interface {
	Record(ctx context.Context, e usage.Entry)
}

type Handler struct {
	registry  *tools.Registry
	limiter   *ratelimit.Limiter
	detector  *abuse.Detector
	gate      *quota.Gate
	evaluator *quota.Evaluator
	reporter  *usage.Reporter
	recorder  UsageRecorder
	tracer    trace.Tracer
	log       *zap.Logger
	devMode   bool
}

func NewHandler(
	registry *tools.Registry,
	limiter *ratelimit.Limiter,
	detector *abuse.Detector,
	gate *quota.Gate,
	evaluator *quota.Evaluator,
	reporter *usage.Reporter,
	recorder UsageRecorder,
	tracer trace.Tracer,
	log *zap.Logger,
	devMode bool,
) *Handler {
	return &Handler{
		registry:  registry,
		limiter:   limiter,
		detector:  detector,
		gate:      gate,
		evaluator: evaluator,
		reporter:  reporter,
		recorder:  recorder,
		tracer:    tracer,
		log:       log,
		devMode:   devMode,
	}
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

// HandleInvokeTool is the metered request path.
func (h *Handler) HandleInvokeTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	toolName := chi.URLParam(r, "toolName")
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	_, span := h.tracer.Start(ctx, "tools.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", p.UserID),
		attribute.String("company_id", p.CompanyID),
		attribute.String("tool", toolName),
	)

	// Short-window throttle, per user.
	allowed, err := h.limiter.Allow(ctx, p.UserID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "too many requests from this user, please try again after a minute",
		})
		return
	}

	// 5-minute abuse window; may deactivate the account.
	if err := h.detector.Check(ctx, p.UserID); err != nil {
		if errors.Is(err, abuse.ErrSuspended) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": abuse.ErrSuspended.Error(),
			})
			return
		}
		h.serverError(w, "abuse check failed", err)
		return
	}

	// Monthly cap, cached counter with rollover.
	if err := h.gate.Allow(ctx, p.CompanyID); err != nil {
		var exceeded *quota.ExceededError
		switch {
		case errors.As(err, &exceeded):
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":         exceeded.Error() + ", please upgrade your plan to continue",
				"current_usage": exceeded.CurrentUsage,
				"limit":         exceeded.Limit,
				"reset_date":    exceeded.ResetDate,
			})
		case errors.Is(err, company.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
		default:
			h.serverError(w, "quota check failed", err)
		}
		return
	}

	start := time.Now()
	output, execErr := h.registry.Execute(ctx, toolName, req.Prompt)
	latency := time.Since(start).Milliseconds()

	entry := usage.Entry{
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		ToolName:  toolName,
		Prompt:    req.Prompt,
		Response:  output,
		Success:   execErr == nil,
		LatencyMs: latency,
		IP:        clientIP(r),
	}

	if execErr != nil {
		entry.ErrorMessage = execErr.Error()
		if errors.Is(execErr, tools.ErrUnknownTool) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tool: " + toolName})
		} else {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": execErr.Error()})
		}
	} else {
		writeJSON(w, http.StatusOK, map[string]any{
			"tool":       toolName,
			"response":   output,
			"latency_ms": latency,
		})
	}

	// Response is committed; record the outcome off the request context so a
	// client disconnect cannot cancel bookkeeping.
	go h.recorder.Record(context.Background(), entry)
}

// HandleQuota exposes the authoritative log-recounted quota verdict.
func (h *Handler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.evaluator.Check(r.Context(), p.CompanyID)
	if err != nil {
		if errors.Is(err, company.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
			return
		}
		h.serverError(w, "quota evaluation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleUsageStats returns the period-bucketed per-tool aggregation for the
// principal's company.
func (h *Handler) HandleUsageStats(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = usage.PeriodMonth
	}

	stats, err := h.reporter.Stats(r.Context(), p.CompanyID, period)
	if err != nil {
		switch {
		case errors.Is(err, usage.ErrInvalidPeriod):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid period, expected day, week or month"})
		case errors.Is(err, company.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
		default:
			h.serverError(w, "failed to get usage statistics", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleUserUsage returns the principal's raw log entries for the period,
// newest first.
func (h *Handler) HandleUserUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = usage.PeriodMonth
	}

	logs, err := h.reporter.UserLogs(r.Context(), p.UserID, p.CompanyID, period)
	if err != nil {
		if errors.Is(err, usage.ErrInvalidPeriod) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid period, expected day, week or month"})
			return
		}
		h.serverError(w, "failed to get user usage", err)
		return
	}

	if logs == nil {
		logs = []*usage.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	body := map[string]string{"error": "internal server error"}
	if h.devMode {
		body["detail"] = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/internal/abuse"
	"github.com/Shiva2076/Saas-backend-repo/internal/auth"
	"github.com/Shiva2076/Saas-backend-repo/internal/company"
	"github.com/Shiva2076/Saas-backend-repo/internal/quota"
	"github.com/Shiva2076/Saas-backend-repo/internal/tools"
	"github.com/Shiva2076/Saas-backend-repo/internal/usage"
	"github.com/Shiva2076/Saas-backend-repo/pkg/ratelimit"
)

// Mock usage store
type mockUsageStore struct {
	countByUserFunc  func(ctx context.Context, userID string, since time.Time) (int64, error)
	countSuccessFunc func(ctx context.Context, companyID string, since time.Time) (int64, error)
	aggregateFunc    func(ctx context.Context, companyID string, from, to time.Time) ([]usage.ToolUsage, error)
	listByUserFunc   func(ctx context.Context, userID, companyID string, from, to time.Time) ([]*usage.Log, error)
}

func (m *mockUsageStore) Append(ctx context.Context, l *usage.Log) error { return nil }

func (m *mockUsageStore) CountSuccessSince(ctx context.Context, companyID string, since time.Time) (int64, error) {
	if m.countSuccessFunc != nil {
		return m.countSuccessFunc(ctx, companyID, since)
	}
	return 0, nil
}

func (m *mockUsageStore) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	if m.countByUserFunc != nil {
		return m.countByUserFunc(ctx, userID, since)
	}
	return 0, nil
}

func (m *mockUsageStore) AggregateByTool(ctx context.Context, companyID string, from, to time.Time) ([]usage.ToolUsage, error) {
	if m.aggregateFunc != nil {
		return m.aggregateFunc(ctx, companyID, from, to)
	}
	return nil, nil
}

func (m *mockUsageStore) ListByUser(ctx context.Context, userID, companyID string, from, to time.Time) ([]*usage.Log, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID, companyID, from, to)
	}
	return nil, nil
}

// Mock company store
type mockCompanyStore struct {
	getFunc func(ctx context.Context, id string) (*company.Company, error)
}

func (m *mockCompanyStore) Get(ctx context.Context, id string) (*company.Company, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &company.Company{
		ID:           id,
		Plan:         company.PlanFree,
		MonthlyLimit: 100,
		CurrentUsage: 0,
		ResetDate:    time.Now().Add(30 * 24 * time.Hour),
	}, nil
}

func (m *mockCompanyStore) Create(ctx context.Context, c *company.Company) error { return nil }
func (m *mockCompanyStore) IncrementUsage(ctx context.Context, id string) error  { return nil }
func (m *mockCompanyStore) ResetUsage(ctx context.Context, id string, old, next time.Time) (bool, error) {
	return true, nil
}
func (m *mockCompanyStore) SetUsage(ctx context.Context, id string, usage int64) error { return nil }
func (m *mockCompanyStore) UpdatePlan(ctx context.Context, id, plan string) error      { return nil }
func (m *mockCompanyStore) ListIDs(ctx context.Context) ([]string, error)              { return nil, nil }

// Mock limiter store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

// Fake deactivator
type fakeDeactivator struct {
	calls []string
}

func (f *fakeDeactivator) SetActive(ctx context.Context, userID string, active bool) error {
	f.calls = append(f.calls, userID)
	return nil
}

// Fake recorder; synchronizes the handler's async record for assertions.
type fakeRecorder struct {
	entries chan usage.Entry
}

func (f *fakeRecorder) Record(ctx context.Context, e usage.Entry) {
	f.entries <- e
}

func (f *fakeRecorder) wait(t *testing.T) usage.Entry {
	t.Helper()
	select {
	case e := <-f.entries:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not recorded")
		return usage.Entry{}
	}
}

type testEnv struct {
	router      *chi.Mux
	recorder    *fakeRecorder
	deactivator *fakeDeactivator
	usageStore  *mockUsageStore
	companies   *mockCompanyStore
}

func setupTest(usageStore *mockUsageStore, companies *mockCompanyStore, limiterAllowed bool) *testEnv {
	if usageStore == nil {
		usageStore = &mockUsageStore{}
	}
	if companies == nil {
		companies = &mockCompanyStore{}
	}

	log := zap.NewNop()
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)

	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	deactivator := &fakeDeactivator{}
	detector := abuse.NewDetector(usageStore, deactivator, 5*time.Minute, 30, log)
	gate := quota.NewGate(companies)
	evaluator := quota.NewEvaluator(companies, usageStore)
	reporter := usage.NewReporter(usageStore, companies)
	recorder := &fakeRecorder{entries: make(chan usage.Entry, 1)}
	tracer := noop.NewTracerProvider().Tracer("test")

	h := NewHandler(registry, limiter, detector, gate, evaluator, reporter, recorder, tracer, log, false)

	r := chi.NewRouter()
	r.Post("/api/tools/{toolName}", h.HandleInvokeTool)
	r.Get("/api/usage/quota", h.HandleQuota)
	r.Get("/api/usage/stats", h.HandleUsageStats)
	r.Get("/api/usage/me", h.HandleUserUsage)

	return &testEnv{
		router:      r,
		recorder:    recorder,
		deactivator: deactivator,
		usageStore:  usageStore,
		companies:   companies,
	}
}

func invokeReq(tool, body string, principal bool) *http.Request {
	req := httptest.NewRequest("POST", "/api/tools/"+tool, bytes.NewReader([]byte(body)))
	if principal {
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{
			UserID:    "u1",
			CompanyID: "c1",
			Role:      auth.RoleUser,
		}))
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestInvokeTool_Unauthorized(t *testing.T) {
	env := setupTest(nil, nil, true)
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, invokeReq("echo", `{"prompt":"hi"}`, false))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvokeTool_InvalidBody(t *testing.T) {
	env := setupTest(nil, nil, true)
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, invokeReq("echo", `{not json}`, true))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvokeTool_RateLimited(t *testing.T) {
	env := setupTest(nil, nil, false)
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, invokeReq("echo", `{"prompt":"hi"}`, true))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "too many requests")
	assert.NotContains(t, body["error"], "suspended")
}

func TestInvokeTool_AbuseSuspends(t *testing.T) {
	usageStore := &mockUsageStore{countByUserFunc: func(ctx context.Context, userID string, since time.Time) (int64, error) {
		return 30, nil
	}}
	env := setupTest(usageStore, nil, true)
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, invokeReq("echo", `{"prompt":"hi"}`, true))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "suspended")
	assert.Contains(t, body["error"], "contact support")
	assert.Equal(t, []string{"u1"}, env.deactivator.calls)
}

func TestInvokeTool_QuotaExceeded(t *testing.T) {
	resetDate := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	companies := &mockCompanyStore{getFunc: func(ctx context.Context, id string) (*company.Company, error) {
		return &company.Company{
			ID:           id,
			Plan:         company.PlanFree,
			MonthlyLimit: 100,
			CurrentUsage: 100,
			ResetDate:    resetDate,
		}, nil
	}}
	env := setupTest(nil, companies, true)
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, invokeReq("echo", `{"prompt":"hi"}`, true))

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(100), body["current_usage"])
	assert.Equal(t, float64(100), body["limit"])
	assert.NotEmpty(t, body["reset_date"])
	assert.Contains(t, body["error"], "upgrade your plan")
}

func TestInvokeTool_Success(t *testing.T) {
	env := setupTest(nil, nil, true)
	w := httptest.NewRecorder()

	req := invokeReq("echo", `{"prompt":"hello world"}`, true)
	req.RemoteAddr = "192.0.2.7:51234"
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "echo", body["tool"])
	assert.Equal(t, "hello world", body["response"])

	entry := env.recorder.wait(t)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, "c1", entry.CompanyID)
	assert.Equal(t, "echo", entry.ToolName)
	assert.Equal(t, "hello world", entry.Prompt)
	assert.True(t, entry.Success)
	assert.Equal(t, "192.0.2.7", entry.IP)
}

func TestInvokeTool_UnknownToolRecordedAsFailure(t *testing.T) {
	env := setupTest(nil, nil, true)
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, invokeReq("no-such-tool", `{"prompt":"hi"}`, true))

	assert.Equal(t, http.StatusNotFound, w.Code)

	entry := env.recorder.wait(t)
	assert.False(t, entry.Success)
	assert.NotEmpty(t, entry.ErrorMessage)
}

func TestInvokeTool_ToolFailureRecorded(t *testing.T) {
	env := setupTest(nil, nil, true)
	w := httptest.NewRecorder()

	// builtin tools reject an empty prompt
	env.router.ServeHTTP(w, invokeReq("echo", `{"prompt":""}`, true))

	assert.Equal(t, http.StatusBadGateway, w.Code)

	entry := env.recorder.wait(t)
	assert.False(t, entry.Success)
	assert.Contains(t, entry.ErrorMessage, "prompt is required")
}

func TestQuota_Enterprise(t *testing.T) {
	companies := &mockCompanyStore{getFunc: func(ctx context.Context, id string) (*company.Company, error) {
		return &company.Company{ID: id, Plan: company.PlanEnterprise, MonthlyLimit: company.Unlimited}, nil
	}}
	env := setupTest(nil, companies, true)
	w := httptest.NewRecorder()

	req := httptest.NewRequest("GET", "/api/usage/quota", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", CompanyID: "c1"}))
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, float64(-1), body["remaining"])
}

func TestQuota_CompanyNotFound(t *testing.T) {
	companies := &mockCompanyStore{getFunc: func(ctx context.Context, id string) (*company.Company, error) {
		return nil, company.ErrNotFound
	}}
	env := setupTest(nil, companies, true)
	w := httptest.NewRecorder()

	req := httptest.NewRequest("GET", "/api/usage/quota", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", CompanyID: "gone"}))
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsageStats_InvalidPeriod(t *testing.T) {
	usageStore := &mockUsageStore{aggregateFunc: func(ctx context.Context, companyID string, from, to time.Time) ([]usage.ToolUsage, error) {
		t.Fatal("aggregation must not run for an invalid period")
		return nil, nil
	}}
	env := setupTest(usageStore, nil, true)
	w := httptest.NewRecorder()

	req := httptest.NewRequest("GET", "/api/usage/stats?period=quarter", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", CompanyID: "c1"}))
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageStats_Success(t *testing.T) {
	usageStore := &mockUsageStore{aggregateFunc: func(ctx context.Context, companyID string, from, to time.Time) ([]usage.ToolUsage, error) {
		return []usage.ToolUsage{
			{ToolName: "echo", Count: 30},
			{ToolName: "uppercase", Count: 12},
		}, nil
	}}
	env := setupTest(usageStore, nil, true)
	w := httptest.NewRecorder()

	req := httptest.NewRequest("GET", "/api/usage/stats?period=month", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", CompanyID: "c1"}))
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(42), body["total_usage"])
	assert.Equal(t, float64(100), body["limit"])
	assert.Equal(t, float64(58), body["remaining"])
}

func TestUserUsage_Success(t *testing.T) {
	usageStore := &mockUsageStore{listByUserFunc: func(ctx context.Context, userID, companyID string, from, to time.Time) ([]*usage.Log, error) {
		return []*usage.Log{
			{ID: "l2", ToolName: "echo"},
			{ID: "l1", ToolName: "echo"},
		}, nil
	}}
	env := setupTest(usageStore, nil, true)
	w := httptest.NewRecorder()

	req := httptest.NewRequest("GET", "/api/usage/me?period=week", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", CompanyID: "c1"}))
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "l2", logs[0]["id"])
}

func TestUserUsage_EmptyIsJSONArray(t *testing.T) {
	env := setupTest(nil, nil, true)
	w := httptest.NewRecorder()

	req := httptest.NewRequest("GET", "/api/usage/me", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", CompanyID: "c1"}))
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

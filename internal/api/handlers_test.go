package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilstack/vigil-heal/internal/actuator"
	"github.com/vigilstack/vigil-heal/internal/config"
	"github.com/vigilstack/vigil-heal/internal/engine"
	"github.com/vigilstack/vigil-heal/internal/issues"
	"github.com/vigilstack/vigil-heal/internal/ledger"
	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/orchestrator"
	"github.com/vigilstack/vigil-heal/internal/probe"
	"github.com/vigilstack/vigil-heal/internal/service"
	"github.com/vigilstack/vigil-heal/internal/snapshot"
	"github.com/vigilstack/vigil-heal/internal/trend"
)

type fixture struct {
	server  *Server
	svc     *service.Service
	tracker *issues.Tracker
	cpu     *float64
	mu      sync.Mutex
}

func (f *fixture) setCPU(v float64) {
	f.mu.Lock()
	*f.cpu = v
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cpu := 95.0
	f := &fixture{cpu: &cpu}

	probes := probe.NewRegistry()
	require.NoError(t, probes.Register(probe.Func{
		ProbeName: "cpu",
		SampleFn: func(context.Context) (models.Value, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return models.Numeric(*f.cpu), nil
		},
	}))

	rule := engine.Rule{
		Name: "cpu_high", Metric: "cpu", Severity: models.SeverityHigh,
		When:    engine.Condition{Above: ptr(90.0)},
		Actions: []string{"cool_down"},
	}

	actuators := actuator.NewRegistry()
	require.NoError(t, actuators.Register(actuator.Func{
		ActionName: "cool_down",
		ApplyFn: func(context.Context) error {
			f.setCPU(40)
			return nil
		},
	}))

	led := ledger.NewMemory(0.3)
	eng := engine.New(nil, []engine.Rule{rule}, led)
	builder := snapshot.NewBuilder(nil, probes, time.Second)
	trends := trend.NewStore(time.Hour, 100)
	tracker := issues.NewTracker(0)
	scorer := service.NewScorer(config.MonitorConfig{})

	orch := orchestrator.New(nil, orchestrator.Config{
		Workers:       1,
		ActionTimeout: time.Second,
		Backoff:       orchestrator.BackoffPolicy{MaxAttempts: 1, Base: time.Millisecond, Max: time.Millisecond},
	}, tracker, led, actuators, eng, builder, trends, scorer.Score, nil)

	svc := service.New(nil, builder, trends, eng, tracker, orch, led, scorer, 30*time.Second)

	f.server = NewServer(nil, svc, ":0")
	f.svc = svc
	f.tracker = tracker
	return f
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 5.0, report.Score)
	assert.NotNil(t, report.OpenIssues)
}

func TestHealthCheckEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/health-check", `{"probes":["cpu"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 95.0, snap.Value("cpu").Num)

	rec = f.do(t, http.MethodPost, "/api/v1/health-check", `{"probes":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssuesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.tracker.Observe(models.Detection{
		Rule: "cpu_high", Metric: "cpu",
		Severity: models.SeverityHigh, Actions: []string{"cool_down"},
	}, time.Now().UTC())

	rec := f.do(t, http.MethodGet, "/api/v1/issues?status=open", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Issues []models.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "cpu_high/cpu", resp.Issues[0].Key)

	rec = f.do(t, http.MethodGet, "/api/v1/issues?status=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoverEndpoint(t *testing.T) {
	f := newFixture(t)
	issue, _ := f.tracker.Observe(models.Detection{
		Rule: "cpu_high", Metric: "cpu",
		Severity: models.SeverityHigh, Actions: []string{"cool_down"},
	}, time.Now().UTC())

	rec := f.do(t, http.MethodPost, "/api/v1/recover", `{"issue_key":"cpu_high/cpu"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status  string                 `json:"status"`
		Attempt models.RecoveryAttempt `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, models.OutcomeSuccess, resp.Attempt.Outcome)
	assert.True(t, resp.Attempt.Manual)

	final, _ := f.tracker.Get(issue.Key)
	assert.Equal(t, models.IssueResolved, final.Status)

	// Unknown issue and missing key are rejected.
	rec = f.do(t, http.MethodPost, "/api/v1/recover", `{"issue_key":"nope/metric"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/recover", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoveryHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	f.tracker.Observe(models.Detection{
		Rule: "cpu_high", Metric: "cpu",
		Severity: models.SeverityHigh, Actions: []string{"cool_down"},
	}, time.Now().UTC())
	rec := f.do(t, http.MethodPost, "/api/v1/recover", `{"issue_key":"cpu_high/cpu"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/recovery-history", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Attempts []models.RecoveryAttempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, "cool_down", resp.Attempts[0].Action)

	rec = f.do(t, http.MethodGet, "/api/v1/recovery-history?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/config", `{"interval":"10s"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/config", `{"interval":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/config", `{"rules_yaml":"rules: []"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/application/query"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/lock"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
	"github.com/academy-hub/tuition-ledger/internal/interface/http/handlers"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

var testNow = time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

type testServer struct {
	store   *memory.Store
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies)) *testServer {
	t.Helper()

	store := memory.NewStore()
	engine := ledger.NewEngine(ledger.DefaultPolicy(), ledger.WithFutureDateCheck(true))
	cdeps := command.Dependencies{
		UnitOfWork: store,
		Locker:     lock.NewKeyedMutex(),
		Engine:     engine,
	}
	qdeps := query.Dependencies{Store: store, Policy: engine.Policy(), Clock: clock}

	promoteCfg := command.DefaultPromoteStudentsHandlerConfig()
	promoteCfg.Clock = clock

	deps := Dependencies{
		AdmitStudent:           command.NewAdmitStudentHandler(cdeps, memory.NewFeeCatalog(), command.AdmitStudentHandlerConfig{Clock: clock}),
		RecordPayment:          command.NewRecordPaymentHandler(cdeps, command.RecordPaymentHandlerConfig{Clock: clock}),
		PromoteStudents:        command.NewPromoteStudentsHandler(cdeps, promoteCfg),
		GetLedger:              query.NewGetLedgerHandler(qdeps, 0),
		GetDueList:             query.NewGetDueListHandler(qdeps),
		GetInstallmentSchedule: query.NewGetInstallmentScheduleHandler(qdeps),
		GetSummary:             query.NewGetSummaryHandler(qdeps),
		GetPaymentHistory:      query.NewGetPaymentHistoryHandler(qdeps),
		Logger:                 logger.Nop(),
	}

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	return &testServer{store: store, handler: NewServer(cfg, deps).Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

const admitBody = `{
	"id": "S-1",
	"name": "Nusrat Jahan",
	"admission_date": "2025-01-10",
	"cycle": "Jan-2025",
	"fee_items": [
		{"label": "January", "amount": "5000", "due_offset_months": 0},
		{"label": "February", "amount": "5000", "due_offset_months": 1}
	]
}`

// ══════════════════════════════════════════════════════════════════════════════
// HAPPY PATH
// ══════════════════════════════════════════════════════════════════════════════

func TestAPI_AdmitPayPromote(t *testing.T) {
	ts := newTestServer(t, nil)

	code, env := ts.do(t, http.MethodPost, "/api/v1/students", admitBody)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var admitted admitResponse
	decodeData(t, env, &admitted)
	assert.Equal(t, "S-1", admitted.StudentID)
	assert.Equal(t, "Jan-2025", admitted.Cycle)
	assert.Equal(t, 2, admitted.Installments)
	assert.True(t, decimal.NewFromInt(10000).Equal(admitted.Ledger.Due))

	code, env = ts.do(t, http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 3000, "method": "bank", "date": "2025-02-15"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var paid paymentResponse
	decodeData(t, env, &paid)
	assert.True(t, decimal.NewFromInt(7000).Equal(paid.Ledger.Due))
	assert.Equal(t, ledger.StatusPartial, paid.Ledger.Status)
	assert.Equal(t, ledger.StatusUnpaid, paid.PreviousStatus)
	assert.Equal(t, ledger.MethodBank, paid.Record.Method)

	code, env = ts.do(t, http.MethodGet, "/api/v1/students/S-1/ledger", "")
	require.Equal(t, http.StatusOK, code)
	var led query.LedgerDTO
	decodeData(t, env, &led)
	assert.True(t, decimal.NewFromInt(3000).Equal(led.Paid))

	code, env = ts.do(t, http.MethodPost, "/api/v1/promotions", `{"student_ids": ["S-1", "S-404"], "source": "Jan-2025", "target": "Feb-2025"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	var promo promoteResponse
	decodeData(t, env, &promo)
	assert.Equal(t, 1, promo.Promoted)
	assert.Equal(t, 1, promo.Failed)
	require.Len(t, promo.Outcomes, 2)
	assert.Equal(t, ledger.OutcomePromoted, promo.Outcomes[0].Outcome)
	assert.Equal(t, "Feb-2025", promo.Outcomes[0].To)
	assert.True(t, promo.Outcomes[0].Settled)
	assert.Equal(t, ledger.OutcomeError, promo.Outcomes[1].Outcome)
	assert.NotEmpty(t, promo.Outcomes[1].Error)

	code, env = ts.do(t, http.MethodGet, "/api/v1/students/S-1/installments", "")
	require.Equal(t, http.StatusOK, code)
	var sched query.InstallmentScheduleDTO
	decodeData(t, env, &sched)
	require.Len(t, sched.Installments, 2)
	assert.True(t, sched.Installments[1].Paid)
	assert.Equal(t, "Feb-2025", sched.CurrentCycle)

	code, env = ts.do(t, http.MethodGet, "/api/v1/students/S-1/payments", "")
	require.Equal(t, http.StatusOK, code)
	var hist query.PaymentHistoryDTO
	decodeData(t, env, &hist)
	assert.Len(t, hist.Records, 2)
	assert.Equal(t, 2, env.Meta.TotalCount)
}

func TestAPI_DueListAndSummary(t *testing.T) {
	ts := newTestServer(t, nil)
	code, _ := ts.do(t, http.MethodPost, "/api/v1/students", admitBody)
	require.Equal(t, http.StatusCreated, code)

	code, env := ts.do(t, http.MethodGet, "/api/v1/dues?filter=unpaid&q=nusrat", "")
	require.Equal(t, http.StatusOK, code, env.Error)
	var dues query.DueListDTO
	decodeData(t, env, &dues)
	require.Len(t, dues.Entries, 1)
	assert.Equal(t, "S-1", dues.Entries[0].StudentID)
	assert.Equal(t, 1, env.Meta.TotalCount)

	code, env = ts.do(t, http.MethodGet, "/api/v1/dues?filter=overdue", "")
	require.Equal(t, http.StatusOK, code)
	decodeData(t, env, &dues)
	assert.Empty(t, dues.Entries)

	code, env = ts.do(t, http.MethodGet, "/api/v1/summary?cycle=Jan-2025", "")
	require.Equal(t, http.StatusOK, code)
	var sum query.SummaryDTO
	decodeData(t, env, &sum)
	assert.Equal(t, 1, sum.Students)
	assert.True(t, decimal.NewFromInt(10000).Equal(sum.TotalDue))

	code, env = ts.do(t, http.MethodGet, "/api/v1/summary?cycle=Mar-2025", "")
	require.Equal(t, http.StatusOK, code)
	decodeData(t, env, &sum)
	assert.Zero(t, sum.Students)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func TestAPI_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	code, _ := ts.do(t, http.MethodPost, "/api/v1/students", admitBody)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"zero amount", http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 0}`, http.StatusBadRequest, "validation_error"},
		{"amount exceeds due", http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 10001}`, http.StatusBadRequest, "validation_error"},
		{"future date", http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 10, "date": "2025-03-01"}`, http.StatusBadRequest, "validation_error"},
		{"reserved method", http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 10, "method": "installment-settlement"}`, http.StatusBadRequest, "validation_error"},
		{"bad date", http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 10, "date": "yesterday"}`, http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 10, "tip": 5}`, http.StatusBadRequest, "bad_request"},
		{"empty body", http.MethodPost, "/api/v1/students/S-1/payments", ``, http.StatusBadRequest, "bad_request"},
		{"unknown student payment", http.MethodPost, "/api/v1/students/S-404/payments", `{"amount": 10}`, http.StatusNotFound, "not_found"},
		{"unknown student ledger", http.MethodGet, "/api/v1/students/S-404/ledger", ``, http.StatusNotFound, "not_found"},
		{"unknown student history", http.MethodGet, "/api/v1/students/S-404/payments", ``, http.StatusNotFound, "not_found"},
		{"duplicate admission", http.MethodPost, "/api/v1/students", admitBody, http.StatusConflict, "conflict"},
		{"same cycle promotion", http.MethodPost, "/api/v1/promotions", `{"student_ids": ["S-1"], "source": "Jan-2025", "target": "Jan-2025"}`, http.StatusUnprocessableEntity, "invalid_transition"},
		{"bad cycle label", http.MethodPost, "/api/v1/promotions", `{"student_ids": ["S-1"], "source": "Smarch", "target": "Jan-2025"}`, http.StatusBadRequest, "validation_error"},
		{"empty promotion", http.MethodPost, "/api/v1/promotions", `{"student_ids": [], "source": "Jan-2025", "target": "Feb-2025"}`, http.StatusBadRequest, "validation_error"},
		{"bad summary cycle", http.MethodGet, "/api/v1/summary?cycle=someday", ``, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	// None of the rejected payments touched the ledger.
	assert.True(t, ts.store.Snapshot("S-1").Paid.IsZero())
	assert.Zero(t, ts.store.PaymentCount("S-1"))
}

func TestAPI_PersistenceFailureIs503(t *testing.T) {
	ts := newTestServer(t, nil)
	code, _ := ts.do(t, http.MethodPost, "/api/v1/students", admitBody)
	require.Equal(t, http.StatusCreated, code)

	ts.store.FailOn(memory.OpAppend, errors.New("disk full"))

	code, env := ts.do(t, http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 100}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "storage_unavailable", env.Error.Code)
	assert.NotContains(t, env.Error.Message, "disk full")
	assert.True(t, ts.store.Snapshot("S-1").Paid.IsZero())
}

func TestAPI_NotConfigured(t *testing.T) {
	ts := newTestServer(t, func(_ *Config, d *Dependencies) { d.GetSummary = nil })

	code, env := ts.do(t, http.MethodGet, "/api/v1/summary", "")
	assert.Equal(t, http.StatusNotImplemented, code)
	assert.Equal(t, "not_implemented", env.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestAPI_Health(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return nil })
	checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	ts := newTestServer(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	code, env := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	var status handlers.HealthStatus
	decodeData(t, env, &status)
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)

	code, _ = ts.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, code)

	checker.AddCheck("postgres", func(context.Context) error { return errors.New("timeout") })
	code, env = ts.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, env.Error.Message, "postgres")
}

func TestAPI_RequestIDAndHeaders(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "req-42", env.Meta.RequestID)
}

func TestAPI_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.RateLimit = 2
		c.RateLimitWindow = time.Hour
	})

	for i := 0; i < 2; i++ {
		code, _ := ts.do(t, http.MethodGet, "/live", "")
		require.Equal(t, http.StatusOK, code)
	}
	code, env := ts.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limit_exceeded", env.Error.Code)
}

func TestAPI_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *Config, _ *Dependencies) { c.MaxBodyBytes = 16 })

	code, env := ts.do(t, http.MethodPost, "/api/v1/students/S-1/payments", `{"amount": 100, "description": "far too long"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "body_too_large", env.Error.Code)
}

func TestAPI_RecoversFromPanic(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{Logger: logger.Nop()})
	s.router.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	s.rateLimiter.Stop()
}

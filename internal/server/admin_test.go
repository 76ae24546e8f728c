package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/account"
	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/jobs"
	"github.com/recoverly-app/recoveryservice/internal/repo/memory"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, secret string) (*AdminServer, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	runner := jobs.NewRunner(store.JobRuns(), time.Minute, 5)
	runner.Register(domain.JobPaymentRetry, func(ctx context.Context) (jobs.Result, error) {
		return jobs.Result{Processed: 2, Successful: 2}, nil
	})
	accounts := account.NewManager(store.AccountStates(), nil, events.NoopPublisher{}, 0)
	return NewAdminServer(":0", secret, runner, accounts, zap.NewNop()), store
}

func bearerToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health/system", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/health/system", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/health/system", nil)
	req.Header.Set("Authorization", bearerToken(t, "wrong-secret"))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/health/system", nil)
	req.Header.Set("Authorization", bearerToken(t, testSecret))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerJobEndpoint(t *testing.T) {
	srv, store := newTestServer(t, testSecret)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/payment_retry/trigger", nil)
	req.Header.Set("Authorization", bearerToken(t, testSecret))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var run domain.JobRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.True(t, run.Success)
	assert.Equal(t, 2, run.Processed)

	history, err := store.JobRuns().ListRecent(context.Background(), domain.JobPaymentRetry, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTriggerJobEndpointUnknownType(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/bogus/trigger", nil)
	req.Header.Set("Authorization", bearerToken(t, testSecret))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	trigger := httptest.NewRequest(http.MethodPost, "/v1/jobs/payment_retry/trigger", nil)
	trigger.Header.Set("Authorization", bearerToken(t, testSecret))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), trigger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/history?job_type=payment_retry&limit=5", nil)
	req.Header.Set("Authorization", bearerToken(t, testSecret))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []domain.JobRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestFeatureAccessEndpoint(t *testing.T) {
	srv, store := newTestServer(t, "")

	require.NoError(t, store.AccountStates().Insert(context.Background(), &domain.AccountState{
		CustomerID:          "cus_1",
		State:               domain.StateSuspended,
		FeatureRestrictions: []string{domain.FeatureAll},
		CreatedAt:           time.Now(),
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/customers/cus_1/features/billing_update", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["allowed"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/customers/cus_1/features/export_report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["allowed"])
}

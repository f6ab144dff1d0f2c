package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymcore/billing-engine/api"
	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/report"
	"github.com/gymcore/billing-engine/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	clock := billing.NewFixedClock(2025, time.March, 15)
	store := memory.New()
	logger := log.Default()

	membershipEngine := membership.NewEngine(store, store, store, clock, logger)
	financeEngine := finance.NewEngine(store, store, clock, logger)
	reports := report.NewService(store, membershipEngine, financeEngine, clock, logger)

	server := api.NewServer(store, membershipEngine, financeEngine, reports, clock, logger)
	ts := httptest.NewServer(api.NewRouter(server))
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func TestTenantCreationSeedsCategories(t *testing.T) {
	ts, store := newTestServer(t)

	// WHEN a tenant is created over HTTP
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/tenants",
		map[string]any{"id": "gym-1", "name": "Iron Temple"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// THEN the default category taxonomy exists
	categories, err := store.ListCategories(context.Background(), "gym-1")
	require.NoError(t, err)
	assert.Len(t, categories, 16)
}

func TestStudentCreationGeneratesFirstCharge(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()

	doJSON(t, http.MethodPost, ts.URL+"/api/tenants",
		map[string]any{"id": "gym-1", "name": "Iron Temple"})

	resp, plan := doJSON(t, http.MethodPost, ts.URL+"/api/tenants/gym-1/plans",
		map[string]any{"name": "Monthly", "value": 150.0, "duration_days": 30})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// WHEN a student enrolls with a plan
	resp, student := doJSON(t, http.MethodPost, ts.URL+"/api/tenants/gym-1/students",
		map[string]any{
			"name":            "Ana",
			"plan_id":         plan["id"],
			"enrollment_date": "2025-03-15",
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// THEN the first charge is already issued
	charges, err := store.ListChargesByStudent(ctx, billing.StudentID(student["id"].(string)))
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "2025-03-15", charges[0].DueDate.String())
	assert.Equal(t, billing.StatusPending, charges[0].Status)
}

func TestChargePaymentFlow(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()

	doJSON(t, http.MethodPost, ts.URL+"/api/tenants",
		map[string]any{"id": "gym-1", "name": "Iron Temple"})
	_, plan := doJSON(t, http.MethodPost, ts.URL+"/api/tenants/gym-1/plans",
		map[string]any{"name": "Monthly", "value": 150.0, "duration_days": 30})
	_, student := doJSON(t, http.MethodPost, ts.URL+"/api/tenants/gym-1/students",
		map[string]any{"name": "Ana", "plan_id": plan["id"], "enrollment_date": "2025-03-15"})

	charges, err := store.ListChargesByStudent(ctx, billing.StudentID(student["id"].(string)))
	require.NoError(t, err)
	require.Len(t, charges, 1)

	// WHEN the charge is paid over HTTP
	resp, paid := doJSON(t, http.MethodPost,
		ts.URL+"/api/tenants/gym-1/charges/"+string(charges[0].ID)+"/payment",
		map[string]any{"method": "pix"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", paid["status"])

	// THEN the successor exists
	charges, err = store.ListChargesByStudent(ctx, billing.StudentID(student["id"].(string)))
	require.NoError(t, err)
	assert.Len(t, charges, 2)

	// AND paying again yields a conflict
	resp, _ = doJSON(t, http.MethodPost,
		ts.URL+"/api/tenants/gym-1/charges/"+string(charges[0].ID)+"/payment",
		map[string]any{"method": "pix"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestValidationErrorsReturn400(t *testing.T) {
	ts, _ := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/tenants",
		map[string]any{"id": "gym-1", "name": "Iron Temple"})

	// Missing required fields
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/tenants/gym-1/plans",
		map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown month on a report
	req, _ := http.NewRequest(http.MethodGet,
		ts.URL+"/api/tenants/gym-1/reports/summary?month=13", nil)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestUnknownChargeReturns404(t *testing.T) {
	ts, _ := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/tenants",
		map[string]any{"id": "gym-1", "name": "Iron Temple"})

	resp, _ := doJSON(t, http.MethodPost,
		ts.URL+"/api/tenants/gym-1/charges/nope/payment",
		map[string]any{"method": "cash"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

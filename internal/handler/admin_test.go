package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tollgate/internal/domain"
)

func adminMux(env *testEnv) *http.ServeMux {
	mux := http.NewServeMux()
	NewAdminHandler(env.quota, env.listener, env.st, discardLogger()).RegisterRoutes(mux, passthrough)
	return mux
}

func adminRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAdminHandler_ResetQuota(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsage(t, "user-1", 10)

	rec := httptest.NewRecorder()
	adminMux(env).ServeHTTP(rec, adminRequest("POST", "/admin/users/user-1/quota/reset", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), env.count(t, "user-1"))
	require.NoError(t, env.quota.CheckQuota(context.Background(), "user-1"))
}

func TestAdminHandler_UpdatePlan(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsage(t, "user-1", 10)
	mux := adminMux(env)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("PUT", "/admin/users/user-1/plan", `{"plan":"premium"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.QuotaSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, domain.PlanPremium, snap.Plan)
	assert.Equal(t, int64(500), snap.DailyLimit)
	assert.Equal(t, int64(10), snap.CurrentUsage, "usage survives a plan change")
	assert.Equal(t, domain.PlanPremium, env.plan(t, "user-1"))
}

func TestAdminHandler_UpdatePlanRejectsUnknownPlan(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.quota.UpdatePlan(context.Background(), "user-1", "pro"))

	rec := httptest.NewRecorder()
	adminMux(env).ServeHTTP(rec, adminRequest("PUT", "/admin/users/user-1/plan", `{"plan":"enterprise"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.EINVALIDPLAN)
	assert.Equal(t, domain.PlanPro, env.plan(t, "user-1"))
}

func TestAdminHandler_UpdateContact(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	adminMux(env).ServeHTTP(rec, adminRequest("PUT", "/admin/users/user-1/contact",
		`{"email":" ada@example.com ","name":"Ada"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	contact, err := env.st.ReadContact(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", contact.Email)
	assert.Equal(t, "Ada", contact.Name)
}

func TestAdminHandler_UpdateContactValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	adminMux(env).ServeHTTP(rec, adminRequest("PUT", "/admin/users/user-1/contact", `{"email":"not-an-address"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp JSONError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Error.Fields, "email")
}

func TestAdminHandler_UserQuota(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsage(t, "user-1", 3)

	rec := httptest.NewRecorder()
	adminMux(env).ServeHTTP(rec, adminRequest("GET", "/admin/users/user-1/quota", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.QuotaSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, int64(3), snap.CurrentUsage)
}

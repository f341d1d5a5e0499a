package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func TestHealthLive(t *testing.T) {
	w := httptest.NewRecorder()
	HealthLive(healthConfig())(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "test", w.Header().Get("X-CampusMart-Env"))
}

func TestHealthReadyAllDependenciesUp(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	w := httptest.NewRecorder()
	HealthReady(healthConfig(), testLogger(), map[string]Pinger{"db": ok, "redis": ok, "skipped": nil})(
		w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	checks := body.Data.(map[string]any)["checks"].(map[string]any)
	require.Equal(t, "ok", checks["db"])
	require.Equal(t, "ok", checks["redis"])
	require.NotContains(t, checks, "skipped")
}

func TestHealthReadyReportsFailedDependency(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	w := httptest.NewRecorder()
	HealthReady(healthConfig(), testLogger(), map[string]Pinger{"db": ok, "redis": down})(
		w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, string(pkgerrors.CodeDependency), body.Error.Code)
	details := body.Error.Details.(map[string]any)
	require.Equal(t, "error", details["redis"])
	require.Equal(t, "ok", details["db"])
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/botcore/internal/interface/http/handlers"
	"github.com/alem-hub/botcore/internal/interface/telegram"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Address(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestServer_HealthzReportsStatus(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("dispatcher", handlers.NewRunningCheck(func() bool { return true }, errors.New("stopped")))

	srv := NewServer(DefaultConfig(), Dependencies{
		Logger:        quietLogger(),
		HealthChecker: checker,
		Status:        func() any { return map[string]any{"queue_length": 3} },
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body struct {
		Healthy bool                            `json:"healthy"`
		Checks  map[string]handlers.CheckResult `json:"checks"`
		Bot     map[string]any                  `json:"bot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Healthy)
	assert.True(t, body.Checks["dispatcher"].Healthy)
	assert.EqualValues(t, 3, body.Bot["queue_length"])
}

func TestServer_HealthzUnhealthy(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("updater", handlers.NewRunningCheck(func() bool { return false }, errors.New("stopped")))

	srv := NewServer(DefaultConfig(), Dependencies{Logger: quietLogger(), HealthChecker: checker})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_WebhookRoute(t *testing.T) {
	d := telegram.NewDispatcher(telegram.DispatcherConfig{Logger: quietLogger()})
	cfg := DefaultConfig()
	cfg.WebhookPath = "/hook"

	srv := NewServer(cfg, Dependencies{
		Logger:  quietLogger(),
		Webhook: handlers.NewWebhookHandler(d, "tok", quietLogger()),
	})

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"update_id":77}`))
	req.Header.Set(handlers.SecretTokenHeader, "tok")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, d.Queue().Len())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebhookPath = "/boom"
	srv := NewServer(cfg, Dependencies{
		Logger: quietLogger(),
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("kaboom")
		}),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_ShutdownWhenNotStarted(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{Logger: quietLogger()})
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Zero(t, srv.Uptime())
}

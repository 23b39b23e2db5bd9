package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scbe/auth"
	"github.com/teranos/scbe/config"
	"github.com/teranos/scbe/directory"
	"github.com/teranos/scbe/session"
	"github.com/teranos/scbe/transport"
)

type noopStore struct{}

func (noopStore) Validate(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (noopStore) TouchActivity(string) error { return nil }

type noopVerifier struct{}

func (noopVerifier) ValidateToken(string) (auth.Claims, error) {
	return auth.Claims{}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	st := noopStore{}
	dir := directory.New(func(id string, createdAt, expiresAt time.Time) *session.Coordinator {
		return session.New(id, "", createdAt, expiresAt, session.DefaultConfig(), st, func(string) {})
	})
	cfg := config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		AllowedOrigins:  []string{"http://localhost:3000"},
		ShutdownTimeout: 1,
	}
	deps := transport.Deps{
		Verifier:          noopVerifier{},
		Directory:         dir,
		Store:             st,
		Config:            config.TransportConfig{WriteDeadlineSeconds: 2, InboundRatePerSecond: 20, InboundRateBurst: 10},
		OutboundQueueSize: 16,
	}
	return New(cfg, dir, deps)
}

func TestHealthzReportsRunningState(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestCorsPreflightShortCircuits(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestShutdownTransitionsToStopped(t *testing.T) {
	s := testServer(t)
	require.Equal(t, StateRunning, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, StateStopped, s.State())
}

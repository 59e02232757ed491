package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	user    string
	latency time.Duration
	err     error
}

func (f *fakeGateway) GatewayStatus() (string, time.Duration, error) {
	return f.user, f.latency, f.err
}

func healthResponse(t *testing.T, app *fiber.App, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestHealthReportsGatewayIdentity(t *testing.T) {
	h := NewHealthHandler(nil, &fakeGateway{user: "Pinky", latency: 42 * time.Millisecond})
	app := fiber.New()
	app.Get("/health", h.Health)

	status, body := healthResponse(t, app, "/health")
	require.Equal(t, 200, status)
	assert.Equal(t, "ok", body["status"])

	gw, ok := body["gateway"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, gw["connected"])
	assert.Equal(t, "Pinky", gw["user"])
	assert.Equal(t, float64(42), gw["heartbeat_latency_ms"])
}

func TestHealthStaysOKWhenGatewayDown(t *testing.T) {
	h := NewHealthHandler(nil, &fakeGateway{err: errors.New("gateway not connected")})
	app := fiber.New()
	app.Get("/health", h.Health)

	status, body := healthResponse(t, app, "/health")
	require.Equal(t, 200, status, "liveness holds regardless of the gateway")

	gw, ok := body["gateway"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, gw["connected"])
	assert.NotContains(t, gw, "user")
}

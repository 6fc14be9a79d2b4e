package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"CapIot.gateway/internal/controller"
	"CapIot.gateway/internal/dispatch"
	"CapIot.gateway/internal/middleware"
	"CapIot.gateway/internal/models"
	"CapIot.gateway/internal/registry"
	"CapIot.gateway/internal/service"
	"CapIot.gateway/internal/transport"
	"github.com/dgrijalva/jwt-go"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeConn struct {
	id     string
	mu     sync.Mutex
	closed bool
	sent   []any
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func setupTestRouter(t *testing.T) (*mux.Router, *service.GatewayService) {
	t.Helper()
	reg := registry.New()
	svc := service.NewGatewayService(reg, dispatch.NewDispatcher(reg), nil, nil, nil, time.Minute)

	auth, err := middleware.NewAuthenticator(testSecret, "", "")
	require.NoError(t, err)

	router := SetupRouter(transport.NewWSTransport(svc), controller.NewDeviceController(svc), auth)
	return router, svc
}

func registerTestDevice(t *testing.T, svc *service.GatewayService, deviceID string) {
	t.Helper()
	err := svc.HandleRegister(&fakeConn{id: "c-" + deviceID}, &models.RegisterMessage{
		Type:     models.TypeRegister,
		DeviceID: deviceID,
		Name:     "ESP32 Test Node",
		Capabilities: []models.Capability{
			{ID: "camera", Label: "Camera Module", Configurable: true},
			{ID: "pzem004t", Label: "PZEM-004T Power Sensor", Configurable: false},
		},
		SamplingRate: 500,
	})
	require.NoError(t, err)
}

func signedToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(router *mux.Router, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestListDevices(t *testing.T) {
	router, svc := setupTestRouter(t)
	registerTestDevice(t, svc, "d1")

	rec := doRequest(router, http.MethodGet, "/devices", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var devices []models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].DeviceID)
	assert.Equal(t, models.StateIdle, devices[0].State)
}

func TestGetUnknownDevice(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/devices/ghost", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var gerr models.GatewayError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gerr))
	assert.Equal(t, models.ErrorCodeDeviceNotConnected, gerr.Code)
}

func TestCommandEndpointsRequireToken(t *testing.T) {
	router, svc := setupTestRouter(t)
	registerTestDevice(t, svc, "d1")

	rec := doRequest(router, http.MethodPost, "/devices/d1/session/start", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodPost, "/devices/d1/session/start", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router, svc := setupTestRouter(t)
	registerTestDevice(t, svc, "d1")
	token := signedToken(t)

	rec := doRequest(router, http.MethodPost, "/devices/d1/session/start", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started["sessionId"])

	rec = doRequest(router, http.MethodPost, "/devices/d1/session/start", token, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var gerr models.GatewayError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gerr))
	assert.Equal(t, models.ErrorCodeSessionAlreadyActive, gerr.Code)

	rec = doRequest(router, http.MethodPost, "/devices/d1/session/stop", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, started["sessionId"], stopped["sessionId"])

	rec = doRequest(router, http.MethodPost, "/devices/d1/session/stop", token, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPushConfigOverHTTP(t *testing.T) {
	router, svc := setupTestRouter(t)
	registerTestDevice(t, svc, "d1")
	token := signedToken(t)

	rec := doRequest(router, http.MethodPost, "/devices/d1/config", token,
		`{"config": {"camera": {"resolution": "1280x720"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodPost, "/devices/d1/config", token,
		`{"config": {"pzem004t": {"interval": 100}}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var gerr models.GatewayError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gerr))
	assert.Equal(t, models.ErrorCodeUnsupportedCapability, gerr.Code)

	rec = doRequest(router, http.MethodPost, "/devices/d1/config", token, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
